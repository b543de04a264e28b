package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/feeledger/core/student"
)

// addStudent registers a student in the directory.
func (cli *commandLine) addStudent(ns student.NewStudent) error {
	if err := ns.Validate(cli.validate); err != nil {
		return err
	}
	st, err := cli.students.CreateStudent(context.Background(), student.Student{
		Name:      ns.Name,
		ClassID:   ns.ClassID,
		RollNo:    ns.RollNo,
		Address:   ns.Address,
		Email:     ns.Email,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "student %s registered: %s (class %s, roll %s)\n", st.ID, st.Name, st.ClassID, st.RollNo)
	return nil
}
