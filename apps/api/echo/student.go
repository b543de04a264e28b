package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/student"
)

type studentApi struct {
	repo student.Repository
}

// registerStudentAPI exposes the directory lookups the fee screens need.
func registerStudentAPI(g *echo.Group, repo student.Repository) {
	api := studentApi{repo: repo}

	sg := g.Group("/students")
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
}

func (api *studentApi) query(ctx echo.Context) error {
	classID := core.CleanString(ctx.QueryParam("class"))
	students, err := api.repo.QueryStudents(ctx.Request().Context(), classID)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	st, err := api.repo.GetStudent(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding student by ID")
	}
	return ctx.JSON(http.StatusOK, st)
}
