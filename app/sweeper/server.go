package sweeper

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/app/sweeper/controller"
	"github.com/helix-wallet/sweeperd/app/sweeper/types"
	"github.com/helix-wallet/sweeperd/pkg/utils"
)

// NewServer builds the admin HTTP server and attaches it to the app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3000")

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
