package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/quizarena/royale/internal/errors"
)

const battleRoyalePath = "/battle-royale"

func (a *API) registerHTTP(r gin.IRouter) {
	g := r.Group("/v1", cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
	}))

	g.OPTIONS(battleRoyalePath, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	g.POST(battleRoyalePath, a.auth.HTTPMiddleware(), a.serveHTTP)
}

// serveHTTP handles the {"action": ..., ...payload} envelope.
func (a *API) serveHTTP(c *gin.Context) {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		abortWithError(c, errors.InvalidArgument("invalid JSON body: %v", err))
		return
	}

	action, _ := payload["action"].(string)
	delete(payload, "action")

	resp, err := a.Route(c.Request.Context(), action, payload)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), ErrorResponse{Error: e.Message})
}
