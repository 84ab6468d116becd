package router

import (
	"net/http"

	"github.com/almatkai/woolet-sub002/internal/config"
	"github.com/almatkai/woolet-sub002/internal/handler"
	"github.com/almatkai/woolet-sub002/internal/middleware"
	"github.com/almatkai/woolet-sub002/internal/models"
	"github.com/almatkai/woolet-sub002/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter configures the Gin engine with the JSON API.
func SetupRouter(cfg *config.Config, db *gorm.DB, svc *service.Service) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(middleware.RequestID(), gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	// tokens are issued by the identity provider; every route needs one
	api.Use(
		middleware.AuthMiddleware(cfg.JWT.Secret, cfg.JWT.Issuer, db),
		middleware.AuditMiddleware(db, cfg.Security.EncryptionKey),
	)

	accounts := handler.NewAccountHandler(svc)
	api.POST("/accounts", accounts.CreateAccount)
	api.GET("/balances", accounts.ListBalances)
	api.GET("/balances/:id/verify", accounts.VerifyBalance)

	txns := handler.NewTransactionHandler(svc)
	api.POST("/transactions", txns.CreateTransaction)
	api.GET("/transactions", txns.ListTransactions)
	api.PUT("/transactions/:id", txns.UpdateTransaction)
	api.DELETE("/transactions/:id", txns.DeleteTransaction)

	splits := handler.NewSplitHandler(svc)
	api.POST("/participants", splits.CreateParticipant)
	api.POST("/transactions/:id/splits", splits.CreateSplits)
	api.GET("/transactions/:id/splits", splits.ListSplits)
	api.POST("/splits/:id/payments", splits.RecordPayment)
	api.POST("/splits/:id/settle", splits.Settle)
	api.DELETE("/splits/payments/:paymentId", splits.DeletePayment)

	debts := handler.NewDebtHandler(svc)
	api.POST("/debts", debts.CreateDebt)
	api.GET("/debts", debts.ListDebts)
	api.GET("/debts/:id", debts.GetDebt)
	api.DELETE("/debts/:id", debts.DeleteDebt)
	api.POST("/debts/:id/soft-delete", debts.SoftDeleteDebt)
	api.POST("/debts/:id/undo", debts.UndoDeleteDebt)
	api.POST("/debts/:id/payments", debts.AddPayment)
	api.PUT("/debts/payments/:paymentId", debts.UpdatePayment)
	api.DELETE("/debts/payments/:paymentId", debts.DeletePayment)

	recurring := handler.NewRecurringHandler(svc)
	for _, kind := range []models.ObligationKind{models.ObligationCredit, models.ObligationMortgage} {
		g := api.Group("/" + string(kind) + "s")
		g.POST("", recurring.CreateObligation(kind))
		g.GET("", recurring.ListObligations(kind))
		g.POST("/:id/pay", recurring.PayObligation(kind))
		g.POST("/:id/mark-paid", recurring.MarkObligationPaid(kind))
	}
	api.POST("/subscriptions", recurring.CreateSubscription)
	api.GET("/subscriptions", recurring.ListSubscriptions)
	api.POST("/subscriptions/:id/pay", recurring.PaySubscription)
	api.POST("/subscriptions/:id/mark-paid", recurring.MarkSubscriptionPaid)

	investing := handler.NewInvestingHandler(svc)
	inv := api.Group("/investing")
	inv.POST("/cash/deposit", investing.Deposit)
	inv.POST("/cash/withdraw", investing.Withdraw)
	inv.GET("/cash", investing.ListCash)
	inv.POST("/buy", investing.Buy)
	inv.POST("/sell", investing.Sell)
	inv.PUT("/transactions/:id", investing.UpdateTransaction)
	inv.DELETE("/transactions/:id", investing.DeleteTransaction)
	inv.GET("/transactions", investing.ListTransactions)
	inv.GET("/holdings", investing.ListHoldings)
	inv.POST("/holdings/:securityId/recalculate", investing.Recalculate)
	inv.GET("/summary", investing.Summary)

	export := handler.NewExportHandler(svc)
	inv.GET("/export/csv", export.ExportCSV)
	inv.GET("/export/xlsx", export.ExportXLSX)

	logs := handler.NewLogHandler(db, cfg.Security.EncryptionKey)
	api.GET("/logs", logs.ListLogs)

	return r
}
