package task

import (
	"time"

	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const Table = "tasks"

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// openCond matches tasks that still need work, on the row aliased as t.
const openCond = "t.status NOT IN ('" + StatusCompleted + "', '" + StatusCancelled + "')"

const overdueCond = "COALESCE(t.due_date < CURRENT_DATE, FALSE) AND " + openCond

// priorityRank sorts urgent work first.
const priorityRank = "CASE t.priority" +
	" WHEN '" + PriorityUrgent + "' THEN 1" +
	" WHEN '" + PriorityHigh + "' THEN 2" +
	" WHEN '" + PriorityMedium + "' THEN 3" +
	" WHEN '" + PriorityLow + "' THEN 4" +
	" ELSE 5 END"

var priorityOrder = []string{priorityRank, "t.due_date ASC NULLS LAST", "t.created_at DESC"}

type Task struct {
	ID          string     `db:"id"           json:"id"`
	Title       string     `db:"title"        json:"title"`
	Description *string    `db:"description"  json:"description,omitempty"`
	Status      string     `db:"status"       json:"status"`
	Priority    string     `db:"priority"     json:"priority"`
	DueDate     *time.Time `db:"due_date"     json:"dueDate,omitempty"`
	CompanyID   *string    `db:"company_id"   json:"companyId,omitempty"`
	ContactID   *string    `db:"contact_id"   json:"contactId,omitempty"`
	AssignedTo  *string    `db:"assigned_to"  json:"assignedTo,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updatedAt"`
	CreatedBy   *string    `db:"created_by"   json:"createdBy,omitempty"`

	CompanyName  *string `db:"company_name"  json:"companyName,omitempty"`
	ContactName  *string `db:"contact_name"  json:"contactName,omitempty"`
	AssigneeName *string `db:"assignee_name" json:"assigneeName,omitempty"`
}

// IsOverdue reports whether an open task is past its due date on day.
func (t *Task) IsOverdue(day time.Time) bool {
	if t.DueDate == nil || t.Status == StatusCompleted || t.Status == StatusCancelled {
		return false
	}
	y, m, d := day.Date()
	return t.DueDate.Before(time.Date(y, m, d, 0, 0, 0, 0, t.DueDate.Location()))
}

type Input struct {
	Title       *string    `json:"title"      validate:"omitempty,min=1,max=255"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"     validate:"omitempty,oneof=pending in_progress completed cancelled"`
	Priority    *string    `json:"priority"   validate:"omitempty,oneof=low medium high urgent"`
	DueDate     *time.Time `json:"dueDate"`
	CompanyID   *string    `json:"companyId"  validate:"omitempty,uuid"`
	ContactID   *string    `json:"contactId"  validate:"omitempty,uuid"`
	AssignedTo  *string    `json:"assignedTo" validate:"omitempty,uuid"`
	CreatedBy   *string    `json:"createdBy"  validate:"omitempty,uuid"`
}

func (in Input) Values() repository.Values {
	v := repository.Values{}
	repository.SetPresent(v, "title", in.Title)
	repository.SetPresent(v, "description", in.Description)
	repository.SetPresent(v, "status", in.Status)
	repository.SetPresent(v, "priority", in.Priority)
	repository.SetPresent(v, "due_date", in.DueDate)
	repository.SetPresent(v, "company_id", in.CompanyID)
	repository.SetPresent(v, "contact_id", in.ContactID)
	repository.SetPresent(v, "assigned_to", in.AssignedTo)
	repository.SetPresent(v, "created_by", in.CreatedBy)
	return v
}

type Filters struct {
	Search     *string    `json:"search"     form:"search"`
	Status     *string    `json:"status"     form:"status"`
	Priority   *string    `json:"priority"   form:"priority"`
	AssignedTo *string    `json:"assignedTo" form:"assignedTo"`
	CompanyID  *string    `json:"companyId"  form:"companyId"`
	ContactID  *string    `json:"contactId"  form:"contactId"`
	DueFrom    *time.Time `json:"dueFrom"    form:"dueFrom"`
	DueTo      *time.Time `json:"dueTo"      form:"dueTo"`
	Overdue    *bool      `json:"overdue"    form:"overdue"`
}

var searchColumns = []string{"t.title", "t.description", "c.name", "ct.first_name", "ct.last_name"}

func (f Filters) Filter() *repository.Filter {
	out := &repository.Filter{}
	if f.Search != nil {
		out.Add(repository.ContainsAny(*f.Search, searchColumns...))
	}
	if f.Status != nil {
		out.Add(repository.Equal("t.status", *f.Status))
	}
	if f.Priority != nil {
		out.Add(repository.Equal("t.priority", *f.Priority))
	}
	if f.AssignedTo != nil {
		out.Add(repository.Equal("t.assigned_to", *f.AssignedTo))
	}
	if f.CompanyID != nil {
		out.Add(repository.Equal("t.company_id", *f.CompanyID))
	}
	if f.ContactID != nil {
		out.Add(repository.Equal("t.contact_id", *f.ContactID))
	}
	if f.DueFrom != nil {
		out.Add(repository.AtLeast("t.due_date", *f.DueFrom))
	}
	if f.DueTo != nil {
		out.Add(repository.AtMost("t.due_date", *f.DueTo))
	}
	if f.Overdue != nil {
		out.Add(repository.Is(overdueCond, *f.Overdue))
	}
	return out
}

type Stats struct {
	Total      int64            `json:"total"`
	Pending    int64            `json:"pending"`
	InProgress int64            `json:"inProgress"`
	Completed  int64            `json:"completed"`
	Overdue    int64            `json:"overdue"`
	ByPriority map[string]int64 `json:"byPriority"`
	ByStatus   map[string]int64 `json:"byStatus"`
	ByAssignee map[string]int64 `json:"byAssignee"`
}
