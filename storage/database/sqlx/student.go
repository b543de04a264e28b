package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/student"
)

type studentRow struct {
	ID        string      `db:"id"`
	Name      string      `db:"name"`
	ClassID   string      `db:"class_id"`
	RollNo    string      `db:"roll_no"`
	Address   null.String `db:"address"`
	Email     null.String `db:"email"`
	CreatedAt time.Time   `db:"created_at"`
}

func (r studentRow) student() student.Student {
	return student.Student{
		ID:        r.ID,
		Name:      r.Name,
		ClassID:   r.ClassID,
		RollNo:    r.RollNo,
		Address:   r.Address.String,
		Email:     r.Email.String,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type studentRepository struct {
	exec core.DBExecutor
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(exec core.DBExecutor) *studentRepository {
	return &studentRepository{exec: exec}
}

func (repo studentRepository) CreateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO students (id, name, class_id, roll_no, address, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := repo.exec.ExecContext(ctx, q,
		st.ID, st.Name, st.ClassID, st.RollNo,
		null.NewString(st.Address, st.Address != ""),
		null.NewString(st.Email, st.Email != ""),
		st.CreatedAt.UTC(),
	)
	if err != nil {
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return st, nil
}

func (repo studentRepository) GetStudent(ctx context.Context, id string) (student.Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return student.Student{}, student.ErrNotFound
	}
	var row studentRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, `SELECT * FROM students WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return student.Student{}, student.ErrNotFound
		}
		return student.Student{}, errors.Wrap(err, "finding student by ID")
	}
	return row.student(), nil
}

func (repo studentRepository) QueryStudents(ctx context.Context, classID string) ([]student.Student, error) {
	var rows []studentRow
	var err error
	if classID == "" {
		err = sqlx.SelectContext(ctx, repo.exec, &rows, `SELECT * FROM students ORDER BY class_id, roll_no`)
	} else {
		err = sqlx.SelectContext(ctx, repo.exec, &rows, `SELECT * FROM students WHERE class_id = $1 ORDER BY roll_no`, classID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]student.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.student())
	}
	return students, nil
}
