package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-scheduling-api/internal/handler"
	"github.com/noah-isme/tutor-scheduling-api/internal/middleware"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/internal/service"
	"github.com/noah-isme/tutor-scheduling-api/pkg/config"
	"github.com/noah-isme/tutor-scheduling-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutor-scheduling-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutor-scheduling-api/pkg/middleware/requestid"
)

type routerDeps struct {
	auth         middleware.TokenValidator
	metrics      *service.MetricsService
	availability *handler.AvailabilityHandler
	classes      *handler.ClassHandler
	credits      *handler.CreditHandler
	vacations    *handler.VacationHandler
	observe      *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.observe.Health)
	r.GET("/ready", deps.observe.Ready)
	r.GET("/metrics", deps.observe.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staff := []models.UserRole{models.RoleAdmin, models.RoleSuperAdmin}
	teacherOrStaff := append([]models.UserRole{models.RoleTeacher}, staff...)
	studentOrStaff := append([]models.UserRole{models.RoleStudent}, staff...)

	// Availability lookups are public; a token only widens what the caller sees.
	public := r.Group(cfg.APIPrefix, middleware.OptionalJWT(deps.auth))
	public.GET("/teachers/:teacherId/availability", deps.availability.Resolve)

	api := r.Group(cfg.APIPrefix, middleware.JWT(deps.auth))

	api.GET("/metrics/summary", middleware.RequireRoles(staff...), deps.observe.Summary)

	teachers := api.Group("/teachers/:teacherId")
	teachers.GET("/availability/export", middleware.RequireRoles(teacherOrStaff...), deps.availability.Export)
	teachers.POST("/availability/rules", middleware.RequireRoles(teacherOrStaff...), deps.availability.CreateRule)
	teachers.POST("/vacations", middleware.RequireRoles(teacherOrStaff...), deps.vacations.Request)

	rules := api.Group("/availability/rules/:ruleId", middleware.RequireRoles(teacherOrStaff...))
	rules.DELETE("", deps.availability.DeleteRule)
	rules.POST("/exceptions", deps.availability.AddException)
	rules.DELETE("/exceptions/:date", deps.availability.RemoveException)

	classes := api.Group("/classes")
	classes.POST("", middleware.RequireRoles(studentOrStaff...), deps.classes.Book)
	classes.POST("/with-credit", middleware.RequireRoles(staff...), deps.classes.CreateWithCredit)
	classes.POST("/overdue-sweep", middleware.RequireRoles(staff...), deps.classes.SweepOverdue)
	classes.POST("/:id/reschedule", deps.classes.Reschedule)
	classes.POST("/:id/cancel", middleware.RequireRoles(models.RoleStudent), deps.classes.CancelByStudent)
	classes.POST("/:id/teacher-cancel", middleware.RequireRoles(teacherOrStaff...), deps.classes.CancelByTeacher)
	classes.POST("/:id/convert-to-slot", middleware.RequireRoles(teacherOrStaff...), deps.classes.ConvertToSlot)
	classes.POST("/:id/complete", middleware.RequireRoles(teacherOrStaff...), deps.classes.Complete)
	classes.POST("/:id/no-show", middleware.RequireRoles(teacherOrStaff...), deps.classes.NoShow)

	students := api.Group("/students/:studentId/credits")
	students.GET("", middleware.RBAC(middleware.AllowSelf, string(models.RoleAdmin), string(models.RoleSuperAdmin)), deps.credits.Summary)
	students.POST("/regular", middleware.RequireRoles(teacherOrStaff...), deps.credits.GrantRegular)
	students.POST("/class", middleware.RequireRoles(staff...), deps.credits.AddClassCredits)

	api.DELETE("/vacations/:id", middleware.RequireRoles(teacherOrStaff...), deps.vacations.Delete)

	return r
}
