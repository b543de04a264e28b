package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
)

var errInvalidDate = errors.New("must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")

type feeApi struct {
	svc      *fee.Service
	validate *validator.Validate
}

func registerFeeAPI(g *echo.Group, svc *fee.Service, validate *validator.Validate) {
	api := feeApi{
		svc:      svc,
		validate: validate,
	}

	cg := g.Group("/classes")
	cg.GET("/fees", api.listSchedule)
	cg.GET("/:class/fee", api.getMonthlyFee)
	cg.PUT("/:class/fee", api.setMonthlyFee)

	sg := g.Group("/students/:id")
	sg.GET("/fees/:year/:month", api.currentView)
	sg.POST("/fees/:year/:month/settlements", api.settle)
	sg.GET("/receipts", api.history)
	sg.GET("/receipts/:receipt", api.receipt)
}

// Handlers

func (api *feeApi) listSchedule(ctx echo.Context) error {
	schedule, err := api.svc.ListSchedule(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing fee schedule")
	}
	return ctx.JSON(http.StatusOK, schedule)
}

func (api *feeApi) getMonthlyFee(ctx echo.Context) error {
	classID := core.CleanString(ctx.Param("class"))
	amount, err := api.svc.GetMonthlyFee(ctx.Request().Context(), classID)
	if err != nil {
		return errors.Wrap(err, "getting monthly fee")
	}
	return ctx.JSON(http.StatusOK, fee.ClassFee{ClassID: classID, MonthlyFee: amount})
}

func (api *feeApi) setMonthlyFee(ctx echo.Context) error {
	var data fee.ScheduleUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ScheduleUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	cf, err := api.svc.SetMonthlyFee(ctx.Request().Context(), ctx.Param("class"), *data.MonthlyFee)
	if err != nil {
		return errors.Wrap(err, "setting monthly fee")
	}
	return ctx.JSON(http.StatusOK, cf)
}

func (api *feeApi) currentView(ctx echo.Context) error {
	p, err := bindPeriod(ctx)
	if err != nil {
		return err
	}
	view, err := api.svc.CurrentView(ctx.Request().Context(), ctx.Param("id"), p)
	if err != nil {
		return errors.Wrap(err, "getting current fee view")
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *feeApi) settle(ctx echo.Context) error {
	p, err := bindPeriod(ctx)
	if err != nil {
		return err
	}
	var data fee.Settlement
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Settlement")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	entry, err := api.svc.CommitSettlement(ctx.Request().Context(), ctx.Param("id"), p, data)
	if err != nil {
		return errors.Wrap(err, "committing settlement")
	}
	return ctx.JSON(http.StatusCreated, entry)
}

func (api *feeApi) history(ctx echo.Context) error {
	var query receiptQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &query); err != nil {
		return errors.Wrap(err, "binding to receiptQuery")
	}
	filter, err := query.filter()
	if err != nil {
		return err
	}
	if err = filter.Validate(api.validate); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	view, err := api.svc.History(ctx.Request().Context(), ctx.Param("id"), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying fee history")
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *feeApi) receipt(ctx echo.Context) error {
	doc, err := api.svc.Receipt(ctx.Request().Context(), ctx.Param("id"), ctx.Param("receipt"))
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}
	return ctx.JSON(http.StatusOK, doc)
}
