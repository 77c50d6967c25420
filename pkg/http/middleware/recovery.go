package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	applogger "StockSense/pkg/logger"
)

// Recover turns a handler panic into a 500 and logs it with the stack.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				if l != nil {
					l.Error("http handler panic",
						applogger.String("method", c.Request().Method),
						applogger.String("path", c.Path()),
						applogger.Any("panic", r),
						applogger.String("stack", string(debug.Stack())),
					)
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
				})
				if err != nil {
					err = fmt.Errorf("write panic response: %w", err)
				}
			}()
			return next(c)
		}
	}
}
