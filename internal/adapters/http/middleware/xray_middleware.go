package middleware

import (
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/labstack/echo/v4"
)

// XRayMiddleware opens a segment per request so downstream AWS calls and log
// records share a trace id. The final response status is recorded on the
// segment: 4xx marks it as an error, 429 as throttled, 5xx as a fault.
func XRayMiddleware(segmentName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, seg := xray.BeginSegment(c.Request().Context(), segmentName)
			req := c.Request().Clone(ctx)
			c.SetRequest(req)

			err := next(c)
			if err != nil {
				// resolve the status before it is recorded
				c.Error(err)
				err = nil
			}

			status := c.Response().Status
			seg.Lock()
			seg.GetHTTP().GetRequest().Method = req.Method
			seg.GetHTTP().GetRequest().URL = req.URL.Path
			seg.GetHTTP().GetResponse().Status = status
			switch {
			case status == 429:
				seg.Error = true
				seg.Throttle = true
			case status >= 400 && status < 500:
				seg.Error = true
			case status >= 500:
				seg.Fault = true
			}
			seg.Unlock()
			_ = seg.AddAnnotation("route", c.Path())
			seg.Close(nil)
			return err
		}
	}
}
