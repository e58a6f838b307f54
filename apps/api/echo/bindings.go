package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-focus/core"
)

const orderingParam = "ordering"

// Ordering binds the "ordering" query param, e.g. `?ordering=-started_at,kind`.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	ord.Orderings = core.ParseOrdering(ctx.QueryParam(orderingParam))
}
