package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/quilldav/quill/middleware"
	"github.com/quilldav/quill/pkg/conf"
	"github.com/quilldav/quill/pkg/dav"
	"github.com/quilldav/quill/pkg/logging"
)

var davMethods = []string{
	"OPTIONS", "GET", "HEAD", "PUT", "DELETE", "MKCOL",
	"COPY", "MOVE", "PROPFIND", "PROPPATCH", "REPORT",
}

// InitRouter builds the gin engine and mounts the DAV handler on its
// configured prefix.
func InitRouter(handler *dav.Handler, cp conf.ConfigProvider, l logging.Logger) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.CorrelationID(l),
		middleware.RequestLog(),
	)

	prefix := cp.DAV().Prefix
	for _, method := range davMethods {
		r.Handle(method, prefix, handler.ServeHTTP)
		r.Handle(method, prefix+"/*path", handler.ServeHTTP)
	}
	return r
}
