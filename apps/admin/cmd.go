package main

import (
	"bufio"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/student"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp         = errors.New("help provided")
	errAborted      = errors.New("aborted")
	errNotConfirmed = errors.New("overwriting a class fee needs confirmation, re-run with -yes")
	errNoDatabase   = errors.New("migrations need postgres storage")
	errEphemeral    = errors.New("in-memory storage is lost when the command exits, use postgres storage")
)

type commandLine struct {
	db        *sql.DB // nil with in-memory storage
	ephemeral bool    // rejects writes that would not outlive the process
	feeSvc    *fee.Service
	students  student.Repository
	validate  *validator.Validate
	in        io.Reader
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  setfee -class CLASS -amount AMOUNT [-yes] - set the monthly fee of a class")
	fmt.Fprintln(cli.out, "  addstudent -name NAME -class CLASS -roll ROLL [-address ADDRESS] [-email EMAIL] - register a student")
	fmt.Fprintln(cli.out, "  history -student ID - print a student's settlement history")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	setFeeCmd := flag.NewFlagSet("setfee", flag.ContinueOnError)
	setFeeCmd.SetOutput(cli.out)
	setFeeClass := setFeeCmd.String("class", "", "The class identifier.")
	setFeeAmount := setFeeCmd.Int64("amount", -1, "The monthly fee, in minor currency units.")
	setFeeYes := setFeeCmd.Bool("yes", false, "Overwrite an existing fee without asking.")

	addStudentCmd := flag.NewFlagSet("addstudent", flag.ContinueOnError)
	addStudentCmd.SetOutput(cli.out)
	addStudentName := addStudentCmd.String("name", "", "The student's full name.")
	addStudentClass := addStudentCmd.String("class", "", "The class identifier.")
	addStudentRoll := addStudentCmd.String("roll", "", "The roll number within the class.")
	addStudentAddress := addStudentCmd.String("address", "", "The postal address printed on receipts.")
	addStudentEmail := addStudentCmd.String("email", "", "Where payment confirmations are sent.")

	historyCmd := flag.NewFlagSet("history", flag.ContinueOnError)
	historyCmd.SetOutput(cli.out)
	historyStudent := historyCmd.String("student", "", "The student's ID.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			fmt.Fprintln(cli.out, "Usage: migrate COMMAND [ARGS]")
			return errHelp
		}
		return cli.migrate(args[2:])

	case "setfee":
		if err := setFeeCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *setFeeClass == "" || *setFeeAmount < 0 {
			setFeeCmd.Usage()
			return errHelp
		}
		if cli.ephemeral {
			return errEphemeral
		}
		return cli.setFee(*setFeeClass, *setFeeAmount, *setFeeYes)

	case "addstudent":
		if err := addStudentCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addStudentName == "" || *addStudentClass == "" || *addStudentRoll == "" {
			addStudentCmd.Usage()
			return errHelp
		}
		if cli.ephemeral {
			return errEphemeral
		}
		return cli.addStudent(student.NewStudent{
			Name:    *addStudentName,
			ClassID: *addStudentClass,
			RollNo:  *addStudentRoll,
			Address: *addStudentAddress,
			Email:   *addStudentEmail,
		})

	case "history":
		if err := historyCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *historyStudent == "" {
			historyCmd.Usage()
			return errHelp
		}
		return cli.history(*historyStudent)

	default:
		cli.printUsage()
		return errHelp
	}
}

// confirm asks a yes/no question on an interactive stdin; non interactive sessions never confirm.
func (cli *commandLine) confirm(question string) (bool, error) {
	if !isTerminalFunc(int(os.Stdin.Fd())) {
		return false, errNotConfirmed
	}
	fmt.Fprintf(cli.out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(cli.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
