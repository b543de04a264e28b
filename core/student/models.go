package student

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/feeledger/core"
)

var ErrNotFound = errors.New("student not found")

// Student is the directory record the ledger reads: identity and class assignment.
type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ClassID   string    `json:"class_id"`
	RollNo    string    `json:"roll_no"`
	Address   string    `json:"address"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// NewStudent contains information needed to register a Student.
type NewStudent struct {
	Name    string `json:"name" validate:"required"`
	ClassID string `json:"class_id" validate:"required,classid"`
	RollNo  string `json:"roll_no" validate:"required"`
	Address string `json:"address"`
	Email   string `json:"email" validate:"omitempty,email"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.ClassID = core.CleanString(ns.ClassID)
	ns.RollNo = core.CleanString(ns.RollNo)
	ns.Address = core.CleanString(ns.Address)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	return validate.Struct(ns)
}

type Repository interface {
	CreateStudent(ctx context.Context, st Student) (Student, error)
	GetStudent(ctx context.Context, id string) (Student, error)
	// QueryStudents lists students of a class; an empty classID lists everyone.
	QueryStudents(ctx context.Context, classID string) ([]Student, error)
}
