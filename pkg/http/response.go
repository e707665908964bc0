package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler registers its routes on the server's echo instance.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// Envelope wraps every JSON body.
type Envelope struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Page is the data of a list response.
type Page struct {
	Rows  interface{} `json:"rows"`
	Total int         `json:"total"`
}

func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Envelope{Status: status, Message: http.StatusText(status), Data: data})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, data)
}

func NoContentResponse(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func ListResponse(c echo.Context, rows interface{}, total int) error {
	return SuccessResponse(c, Page{Rows: rows, Total: total})
}

// BadRequestResponse writes validation failures as a 400.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	return DataResponse(c, http.StatusBadRequest, errs)
}

// AppErrorResponse writes err as a one-element error list under its status.
func AppErrorResponse(c echo.Context, err error) error {
	ae := AsAppError(err)
	return DataResponse(c, ae.Status, []*AppError{ae})
}
