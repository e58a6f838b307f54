package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-focus/core"
	"github.com/trezcool/masomo-focus/core/monitor"
)

type (
	cameraReport struct {
		Active bool `json:"active"`
	}

	commandsResponse struct {
		Commands []string `json:"commands"`
	}

	recordDetail struct {
		monitor.Record
		Violations []monitor.Violation `json:"violations"`
	}

	monitorApi struct {
		service *monitor.Service
	}
)

func registerMonitorAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *monitor.Service) {
	api := monitorApi{service: svc}

	sg := g.Group("/sessions", jwt, learnerMiddleware())
	sg.POST("", api.sessionStart)

	// the learner's active session
	cg := sg.Group("/current")
	cg.GET("", api.sessionCurrent)
	cg.DELETE("", api.sessionStop)
	cg.POST("/finalize", api.sessionFinalize)
	cg.GET("/commands", api.sessionCommands)
	cg.POST("/signals/face", api.signalFace)
	cg.POST("/signals/focus", api.signalFocus)
	cg.POST("/signals/camera", api.signalCamera)
	cg.POST("/signals/playback", api.signalPlayback)

	// detail endpoints
	sg.GET("/:id", api.sessionRetrieve)
	sg.POST("/:id/finalize", api.sessionFinalizeByID)

	lg := g.Group("/learners/:learner", jwt, adminMiddleware())
	lg.GET("/sessions", api.learnerSessions)
}

// Handlers

func (api *monitorApi) sessionStart(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	data := new(monitor.StartParams)
	if err = ctx.Bind(data); err != nil {
		return err
	}

	rec, err := api.service.Start(ctx.Request().Context(), learner.ID, *data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *monitorApi) sessionCurrent(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	view, err := api.service.Current(learner.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *monitorApi) sessionStop(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	if _, err = api.service.Stop(ctx.Request().Context(), learner.ID); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *monitorApi) sessionFinalize(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	res, _, err := api.service.Finalize(ctx.Request().Context(), learner.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *monitorApi) sessionCommands(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	cmds, err := api.service.DrainCommands(learner.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, commandsResponse{Commands: cmds})
}

func (api *monitorApi) signalFace(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	data := new(monitor.FaceReport)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	if err = api.service.ReportFace(learner.ID, *data); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *monitorApi) signalFocus(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	data := new(monitor.FocusState)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	v, err := api.service.ReportFocus(ctx.Request().Context(), learner.ID, *data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *monitorApi) signalCamera(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	data := new(cameraReport)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	v, err := api.service.ReportCamera(ctx.Request().Context(), learner.ID, data.Active)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *monitorApi) signalPlayback(ctx echo.Context) error {
	learner, err := getContextLearner(ctx)
	if err != nil {
		return err
	}
	data := new(monitor.PlaybackReport)
	if err = ctx.Bind(data); err != nil {
		return err
	}
	v, err := api.service.ReportPlayback(ctx.Request().Context(), learner.ID, *data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, v)
}

// ownRecord returns the record :id if it belongs to the ctx learner (admins can access any record).
func (api *monitorApi) ownRecord(ctx echo.Context) (monitor.Record, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return monitor.Record{}, err
	}
	rec, err := api.service.GetRecord(ctx.Request().Context(), core.CleanString(ctx.Param("id")))
	if err != nil {
		return monitor.Record{}, err
	}
	if rec.LearnerID != claims.Subject && !claims.IsAdmin {
		return monitor.Record{}, errHttpForbidden
	}
	return rec, nil
}

func (api *monitorApi) sessionRetrieve(ctx echo.Context) error {
	rec, err := api.ownRecord(ctx)
	if err != nil {
		return err
	}
	vs, err := api.service.GetViolations(ctx.Request().Context(), rec.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, recordDetail{Record: rec, Violations: vs})
}

func (api *monitorApi) sessionFinalizeByID(ctx echo.Context) error {
	rec, err := api.ownRecord(ctx)
	if err != nil {
		return err
	}
	res, _, err := api.service.FinalizeRecord(ctx.Request().Context(), rec.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *monitorApi) learnerSessions(ctx echo.Context) error {
	var ord Ordering
	ord.Bind(ctx)

	records, err := api.service.QueryRecords(ctx.Request().Context(), monitor.RecordFilter{
		LearnerID: ctx.Param("learner"),
		Kind:      monitor.Kind(core.CleanString(ctx.QueryParam("kind"), true /* lower */)),
		Ordering:  ord.Orderings,
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, records)
}
