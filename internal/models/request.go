package models

import "time"

type Request struct {
	RequestID      string     `json:"request_id"`
	RequesterName  string     `json:"requester_name"`
	RequesterEmail string     `json:"requester_email"`
	CourseCode     string     `json:"course_code"`
	CourseName     string     `json:"course_name"`
	CurrentSection string     `json:"current_section,omitempty"`
	RequestType    string     `json:"request_type"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	Note           string     `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
}

const (
	StatusSubmitted = "submitted"
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCanceled  = "canceled"
)

const (
	TypeDropCourse     = "drop_course"
	TypeChangeSection  = "change_section"
	TypeRegisterCapped = "register_capped"
)

var Statuses = []string{StatusSubmitted, StatusPending, StatusApproved, StatusRejected, StatusCanceled}

func ValidStatus(status string) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

var RequestTypes = []string{TypeDropCourse, TypeChangeSection, TypeRegisterCapped}

// RequestTypeLabel returns the wording students see for a request type.
func RequestTypeLabel(requestType string) string {
	switch requestType {
	case TypeDropCourse:
		return "Drop Course"
	case TypeChangeSection:
		return "Change Section"
	case TypeRegisterCapped:
		return "Register for Capped Course"
	default:
		return requestType
	}
}

func ValidRequestType(requestType string) bool {
	for _, t := range RequestTypes {
		if t == requestType {
			return true
		}
	}
	return false
}

type RequestStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
}
