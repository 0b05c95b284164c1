package remote

import (
	"time"

	"github.com/myclass/attendsync/internal/session"
)

// StudentRecord is a student row as the remote service stores it.
type StudentRecord struct {
	RegNo       string         `json:"regNo" binding:"required"`
	StudentName string         `json:"studentName" binding:"required"`
	Status      session.Status `json:"status" binding:"required,oneof=present absent"`
}

// CreateRequest is the body of POST /v1/sessions.
type CreateRequest struct {
	AcademicYear     string           `json:"academicYear,omitempty"`
	SemesterType     string           `json:"semesterType,omitempty"`
	Semester         string           `json:"semester,omitempty"`
	Subject          *session.Subject `json:"subject,omitempty"`
	Section          string           `json:"section,omitempty"`
	SessionDetails   string           `json:"sessionDetails"`
	Students         []StudentRecord  `json:"students" binding:"required,min=1,dive"`
	MarkedBy         string           `json:"markedBy" binding:"required"`
	IsOfflineCreated bool             `json:"isOfflineCreated"`
	// CreatedAt is the local creation time; the server uses its own clock
	// when it is zero.
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// CreateResponse is the answer to a create.
type CreateResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SessionRecord is one element of a listing.
type SessionRecord struct {
	ID               string           `json:"id"`
	CreatedAt        time.Time        `json:"createdAt"`
	AcademicYear     string           `json:"academicYear,omitempty"`
	SemesterType     string           `json:"semesterType,omitempty"`
	Semester         string           `json:"semester,omitempty"`
	Subject          *session.Subject `json:"subject,omitempty"`
	Section          string           `json:"section,omitempty"`
	SessionDetails   string           `json:"sessionDetails"`
	Students         []StudentRecord  `json:"students"`
	MarkedBy         string           `json:"markedBy"`
	IsOfflineCreated bool             `json:"isOfflineCreated"`
}

// DeleteResponse is the answer to both delete calls.
type DeleteResponse struct {
	OK      bool  `json:"ok"`
	Deleted int64 `json:"deleted,omitempty"`
}

// NewCreateRequest reshapes a session for the remote schema.
func NewCreateRequest(s *session.Session) CreateRequest {
	req := CreateRequest{
		AcademicYear:     s.AcademicYear,
		SemesterType:     s.SemesterType,
		Semester:         s.Semester,
		Section:          s.Section,
		SessionDetails:   s.SessionDetails,
		Students:         make([]StudentRecord, 0, len(s.Students)),
		MarkedBy:         s.MarkedBy,
		IsOfflineCreated: s.IsOfflineCreated,
		CreatedAt:        s.CreatedAt,
	}
	if s.Subject != nil {
		sub := *s.Subject
		req.Subject = &sub
	}
	for _, st := range s.Students {
		req.Students = append(req.Students, StudentRecord{RegNo: st.RegNo, StudentName: st.Name, Status: st.Status})
	}
	return req
}

// Session converts a listing record back to the shared model. Remote
// records are by definition synced.
func (r SessionRecord) Session() *session.Session {
	s := &session.Session{
		ID:               r.ID,
		CreatedAt:        r.CreatedAt,
		AcademicYear:     r.AcademicYear,
		SemesterType:     r.SemesterType,
		Semester:         r.Semester,
		Section:          r.Section,
		SessionDetails:   r.SessionDetails,
		Students:         make([]session.Student, 0, len(r.Students)),
		MarkedBy:         r.MarkedBy,
		IsSynced:         true,
		IsOfflineCreated: r.IsOfflineCreated,
	}
	if r.Subject != nil {
		sub := *r.Subject
		s.Subject = &sub
	}
	for _, st := range r.Students {
		s.Students = append(s.Students, session.Student{RegNo: st.RegNo, Name: st.StudentName, Status: st.Status})
	}
	return s
}

// Record builds the listing form of a stored request.
func (req CreateRequest) Record(id string, createdAt time.Time) SessionRecord {
	return SessionRecord{
		ID:               id,
		CreatedAt:        createdAt,
		AcademicYear:     req.AcademicYear,
		SemesterType:     req.SemesterType,
		Semester:         req.Semester,
		Subject:          req.Subject,
		Section:          req.Section,
		SessionDetails:   req.SessionDetails,
		Students:         req.Students,
		MarkedBy:         req.MarkedBy,
		IsOfflineCreated: req.IsOfflineCreated,
	}
}
