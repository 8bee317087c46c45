package core

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// RouterDeps carries the storage and queue collaborators the routes use.
// Everything is an interface so tests can back the router with fakes.
type RouterDeps struct {
	Users            UserRepository
	Tasks            TaskRepository
	CustomTasks      CustomTaskRepository
	Watchlists       WatchlistRepository // per-user lists, account deployments
	LegacyWatchlists WatchlistRepository // shared env-file list, legacy deployments
	Queue            RedisClient
	Metrics          *MetricsService
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, auth *AuthManager, sessionStore *SessionStore, deps RouterDeps) *gin.Engine {
	startedAt := time.Now()
	r := gin.Default()
	r.SetHTMLTemplate(pageTemplates)

	r.Use(RequestIDMiddleware())
	r.Use(AuthMiddleware(auth, cfg.AuthRealm))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	userRepo := deps.Users
	customTaskRepo := deps.CustomTasks
	metricsService := deps.Metrics
	analysis := NewAnalysisService(deps.Tasks, deps.Queue)
	bots := NewBotHandler(cfg.BotSecrets, analysis)

	// Legacy deployments keep the shared watchlist in the env file; account
	// deployments store one list per user.
	watchlistFor := func(ctx context.Context) (WatchlistRepository, error) {
		mode, err := auth.Mode(ctx)
		if err != nil {
			return nil, err
		}
		if mode == AuthModeMultiAccount {
			return deps.Watchlists, nil
		}
		return deps.LegacyWatchlists, nil
	}

	hashPassword := func(password string) (string, error) {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		return string(b), err
	}

	// Pages

	r.GET("/", func(c *gin.Context) {
		who, ok := IdentityFrom(c)
		if !ok {
			who = GuestIdentity()
		}
		repo, err := watchlistFor(c.Request.Context())
		if err != nil {
			c.HTML(http.StatusInternalServerError, "error", gin.H{"Title": "Error", "Status": 500, "Detail": "storage unavailable"})
			return
		}
		list, err := repo.Get(c.Request.Context(), who.UserID)
		if err != nil {
			c.HTML(http.StatusInternalServerError, "error", gin.H{"Title": "Error", "Status": 500, "Detail": "failed to load watchlist"})
			return
		}
		c.HTML(http.StatusOK, "index", gin.H{
			"Title":     "Watchlist",
			"Username":  who.Username,
			"IsAdmin":   who.IsAdmin,
			"StockList": list,
			"Message":   c.Query("message"),
		})
	})

	r.POST("/update", func(c *gin.Context) {
		who, _ := IdentityFrom(c)
		repo, err := watchlistFor(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, "storage unavailable")
			return
		}
		normalized := NormalizeStockList(c.PostForm("stock_list"))
		for _, code := range strings.Split(normalized, ",") {
			if code == "" {
				continue
			}
			if err := ValidateStockCode(code); err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
		}
		if err := repo.Set(c.Request.Context(), who.UserID, normalized); err != nil {
			respondError(c, http.StatusInternalServerError, "failed to save watchlist")
			return
		}
		c.Redirect(http.StatusFound, "/?message=saved")
	})

	r.GET(loginPath, func(c *gin.Context) {
		if _, ok := auth.Peek(c.Request); ok {
			c.Redirect(http.StatusFound, "/")
			return
		}
		c.HTML(http.StatusOK, "login", gin.H{"Title": "Login", "Error": c.Query("error")})
	})

	r.GET("/admin/users", AdminOnly(), func(c *gin.Context) {
		users, err := userRepo.List(c.Request.Context(), true)
		if err != nil {
			c.HTML(http.StatusInternalServerError, "error", gin.H{"Title": "Error", "Status": 500, "Detail": "failed to list users"})
			return
		}
		c.HTML(http.StatusOK, "admin_users", gin.H{"Title": "Users", "Users": users})
	})

	// Auth endpoints

	r.POST("/api/login", func(c *gin.Context) {
		username, password, fromForm := loginCredentials(c)
		id, err := auth.Login(c.Request.Context(), c.Writer, username, password)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				if fromForm {
					c.Redirect(http.StatusFound, loginPath+"?error=invalid+username+or+password")
					return
				}
				respondError(c, http.StatusUnauthorized, "invalid username or password")
				return
			}
			respondError(c, http.StatusInternalServerError, "authentication backend unavailable")
			return
		}
		if fromForm {
			c.Redirect(http.StatusFound, "/")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "user": id})
	})

	logout := func(c *gin.Context) {
		auth.Logout(c.Request, c.Writer)
		if c.Request.Method == http.MethodGet {
			c.Redirect(http.StatusFound, loginPath)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
	r.POST("/api/logout", logout)
	r.GET("/api/logout", logout)

	// Analysis endpoints

	submitAnalysis := func(c *gin.Context, stockCode, reportType string, forceRefresh bool) {
		who, _ := IdentityFrom(c)
		res, err := analysis.Submit(c.Request.Context(), who.UserID, stockCode, reportType, forceRefresh)
		if err != nil {
			if errors.Is(err, ErrInvalidStockCode) || errors.Is(err, ErrInvalidReportType) {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
			respondError(c, http.StatusInternalServerError, "failed to submit analysis")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "task_id": res.TaskID, "cached": res.Cached, "report": res.Report})
	}

	r.POST("/analysis", func(c *gin.Context) {
		var req struct {
			StockCode    string `json:"stock_code"`
			ReportType   string `json:"report_type"`
			ForceRefresh bool   `json:"force_refresh"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
		submitAnalysis(c, req.StockCode, req.ReportType, req.ForceRefresh)
	})

	r.GET("/analysis", func(c *gin.Context) {
		code := c.Query("code")
		if code == "" {
			respondError(c, http.StatusBadRequest, "code is required")
			return
		}
		force, _ := strconv.ParseBool(c.DefaultQuery("force_refresh", "false"))
		submitAnalysis(c, code, c.Query("report_type"), force)
	})

	r.GET("/task", func(c *gin.Context) {
		who, _ := IdentityFrom(c)
		taskID := c.Query("task_id")
		if taskID == "" {
			respondError(c, http.StatusBadRequest, "task_id is required")
			return
		}
		t, err := analysis.Task(c.Request.Context(), who, taskID)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				respondError(c, http.StatusNotFound, "task not found")
				return
			}
			respondError(c, http.StatusInternalServerError, "failed to load task")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "task": t})
	})

	r.GET("/tasks", func(c *gin.Context) {
		who, _ := IdentityFrom(c)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		tasks, err := analysis.Tasks(c.Request.Context(), who, limit)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "tasks": tasks})
	})

	// Custom scheduled tasks

	r.POST("/api/tasks/custom", func(c *gin.Context) {
		who, _ := IdentityFrom(c)
		if !canUseCustomTasks(c.Request.Context(), userRepo, who) {
			respondError(c, http.StatusForbidden, "custom tasks not allowed for this account")
			return
		}
		var req struct {
			StockCode    string `json:"stock_code"`
			ScheduleTime string `json:"schedule_time"`
			ReportType   string `json:"report_type"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
		code := strings.ToUpper(strings.TrimSpace(req.StockCode))
		if err := ValidateStockCode(code); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		if !validScheduleTime(req.ScheduleTime) {
			respondError(c, http.StatusBadRequest, "schedule_time must be HH:MM")
			return
		}
		if req.ReportType == "" {
			req.ReportType = ReportTypeFull
		}
		if err := validateReportType(req.ReportType); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		id, err := customTaskRepo.Create(c.Request.Context(), who.UserID, code, req.ScheduleTime, req.ReportType)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to create schedule")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
	})

	r.GET("/api/tasks/custom", func(c *gin.Context) {
		who, _ := IdentityFrom(c)
		tasks, err := customTaskRepo.ListByUser(c.Request.Context(), who.UserID)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to list schedules")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "tasks": tasks})
	})

	r.PUT("/api/tasks/custom/:id/status", func(c *gin.Context) {
		who, _ := IdentityFrom(c)
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid schedule id")
			return
		}
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
		if err := customTaskRepo.SetEnabled(c.Request.Context(), id, who.UserID, req.Enabled); err != nil {
			if errors.Is(err, ErrCustomTaskNotFound) {
				respondError(c, http.StatusNotFound, "schedule not found")
				return
			}
			respondError(c, http.StatusInternalServerError, "failed to update schedule")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	r.DELETE("/api/tasks/custom/:id", func(c *gin.Context) {
		who, _ := IdentityFrom(c)
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid schedule id")
			return
		}
		if err := customTaskRepo.Delete(c.Request.Context(), id, who.UserID); err != nil {
			if errors.Is(err, ErrCustomTaskNotFound) {
				respondError(c, http.StatusNotFound, "schedule not found")
				return
			}
			respondError(c, http.StatusInternalServerError, "failed to delete schedule")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// Self-service password change

	r.POST("/api/users/password", func(c *gin.Context) {
		who, _ := IdentityFrom(c)
		if who.UserID == 0 {
			respondError(c, http.StatusForbidden, "the shared legacy account cannot change its password here")
			return
		}
		var req struct {
			OldPassword string `json:"old_password"`
			NewPassword string `json:"new_password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
		if len(req.NewPassword) < minPasswordLength {
			respondError(c, http.StatusBadRequest, "new password too short")
			return
		}
		u, err := userRepo.FindByID(c.Request.Context(), who.UserID)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to load user")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.OldPassword)) != nil {
			respondError(c, http.StatusUnauthorized, "old password is incorrect")
			return
		}
		in := UserUpdateInput{Password: &req.NewPassword}
		if err := userRepo.Update(c.Request.Context(), who.UserID, in, hashPassword); err != nil {
			respondError(c, http.StatusInternalServerError, "failed to update password")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// Admin user management

	admin := r.Group("/api/admin", AdminOnly())
	{
		admin.POST("/users", func(c *gin.Context) {
			var req struct {
				Username      string `json:"username"`
				Password      string `json:"password"`
				IsAdmin       bool   `json:"is_admin"`
				CanCustomTask bool   `json:"can_custom_task"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			req.Username = strings.TrimSpace(req.Username)
			if req.Username == "" {
				respondError(c, http.StatusBadRequest, "username is required")
				return
			}
			if len(req.Password) < minPasswordLength {
				respondError(c, http.StatusBadRequest, "password too short")
				return
			}
			hash, err := hashPassword(req.Password)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "failed to hash password")
				return
			}
			u, err := userRepo.Create(c.Request.Context(), req.Username, hash, req.IsAdmin)
			if err != nil {
				if errors.Is(err, ErrUserExists) {
					respondError(c, http.StatusConflict, "username already exists")
					return
				}
				respondError(c, http.StatusInternalServerError, "failed to create user")
				return
			}
			if req.CanCustomTask {
				in := UserUpdateInput{CanCustomTask: &req.CanCustomTask}
				if err := userRepo.Update(c.Request.Context(), u.ID, in, hashPassword); err != nil {
					respondError(c, http.StatusInternalServerError, "failed to set custom task permission")
					return
				}
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "user": u.View()})
		})

		admin.GET("/users", func(c *gin.Context) {
			if rawID := c.Query("id"); rawID != "" {
				id, err := strconv.ParseInt(rawID, 10, 64)
				if err != nil {
					respondError(c, http.StatusBadRequest, "invalid user id")
					return
				}
				u, err := userRepo.FindByID(c.Request.Context(), id)
				if err != nil {
					if errors.Is(err, ErrUserNotFound) {
						respondError(c, http.StatusNotFound, "user not found")
						return
					}
					respondError(c, http.StatusInternalServerError, "failed to load user")
					return
				}
				c.JSON(http.StatusOK, gin.H{"success": true, "user": u.View()})
				return
			}
			users, err := userRepo.List(c.Request.Context(), true)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "failed to list users")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
		})

		admin.DELETE("/users/:id", func(c *gin.Context) {
			who, _ := IdentityFrom(c)
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				respondError(c, http.StatusBadRequest, "invalid user id")
				return
			}
			if id == who.UserID {
				respondError(c, http.StatusBadRequest, "cannot delete your own account")
				return
			}
			if err := userRepo.Delete(c.Request.Context(), id); err != nil {
				if errors.Is(err, ErrUserNotFound) {
					respondError(c, http.StatusNotFound, "user not found")
					return
				}
				respondError(c, http.StatusInternalServerError, "failed to delete user")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
		})

		admin.PUT("/users/:id/password", func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				respondError(c, http.StatusBadRequest, "invalid user id")
				return
			}
			var req struct {
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			if len(req.Password) < minPasswordLength {
				respondError(c, http.StatusBadRequest, "password too short")
				return
			}
			in := UserUpdateInput{Password: &req.Password}
			if err := userRepo.Update(c.Request.Context(), id, in, hashPassword); err != nil {
				if errors.Is(err, ErrUserNotFound) {
					respondError(c, http.StatusNotFound, "user not found")
					return
				}
				respondError(c, http.StatusInternalServerError, "failed to update password")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
		})

		admin.PUT("/users/:id/role", func(c *gin.Context) {
			who, _ := IdentityFrom(c)
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				respondError(c, http.StatusBadRequest, "invalid user id")
				return
			}
			var req struct {
				IsAdmin       *bool `json:"is_admin"`
				CanCustomTask *bool `json:"can_custom_task"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			if id == who.UserID && req.IsAdmin != nil && !*req.IsAdmin {
				respondError(c, http.StatusBadRequest, "cannot revoke your own admin role")
				return
			}
			in := UserUpdateInput{IsAdmin: req.IsAdmin, CanCustomTask: req.CanCustomTask}
			if err := userRepo.Update(c.Request.Context(), id, in, hashPassword); err != nil {
				if errors.Is(err, ErrUserNotFound) {
					respondError(c, http.StatusNotFound, "user not found")
					return
				}
				respondError(c, http.StatusInternalServerError, "failed to update role")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
		})

		admin.PUT("/users/:id/status", func(c *gin.Context) {
			who, _ := IdentityFrom(c)
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				respondError(c, http.StatusBadRequest, "invalid user id")
				return
			}
			var req struct {
				Enabled bool `json:"enabled"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			if id == who.UserID && !req.Enabled {
				respondError(c, http.StatusBadRequest, "cannot disable your own account")
				return
			}
			in := UserUpdateInput{Enabled: &req.Enabled}
			if err := userRepo.Update(c.Request.Context(), id, in, hashPassword); err != nil {
				if errors.Is(err, ErrUserNotFound) {
					respondError(c, http.StatusNotFound, "user not found")
					return
				}
				respondError(c, http.StatusInternalServerError, "failed to update status")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
		})

		admin.GET("/metrics", func(c *gin.Context) {
			qm, workers, err := metricsService.Overview(c.Request.Context())
			if err != nil {
				respondError(c, http.StatusInternalServerError, "failed to collect metrics")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "queue": qm, "workers": workers})
		})

		admin.GET("/metrics/queues", func(c *gin.Context) {
			qm, err := metricsService.Queue(c.Request.Context())
			if err != nil {
				respondError(c, http.StatusInternalServerError, "failed to collect queue metrics")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "queue": qm})
		})

		admin.GET("/metrics/workers", func(c *gin.Context) {
			workers, err := metricsService.Workers(c.Request.Context())
			if err != nil {
				respondError(c, http.StatusInternalServerError, "failed to list workers")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "workers": workers})
		})

		admin.GET("/metrics/workers/:id", func(c *gin.Context) {
			hb, err := metricsService.WorkerByID(c.Request.Context(), c.Param("id"))
			if err != nil {
				if errors.Is(err, redis.Nil) {
					respondError(c, http.StatusNotFound, "worker not found")
					return
				}
				respondError(c, http.StatusInternalServerError, "failed to load worker")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "worker": hb})
		})

		admin.GET("/system", func(c *gin.Context) {
			st, err := CollectSystemStatus(c.Request.Context(), metricsService, sessionStore, startedAt)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "failed to collect system status")
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "system": st})
		})
	}

	// Bot webhooks

	r.POST("/bot/:platform", bots.Handle)

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			respondError(c, http.StatusNotFound, "not found")
			return
		}
		c.HTML(http.StatusNotFound, "error", gin.H{"Title": "Not Found", "Status": 404, "Detail": "The page you requested does not exist."})
	})

	return r
}

// loginCredentials reads the login payload from either a JSON body or a
// classic form post, reporting which so the response can match.
func loginCredentials(c *gin.Context) (username, password string, fromForm bool) {
	if strings.Contains(c.ContentType(), "json") {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = c.ShouldBindJSON(&req)
		return req.Username, req.Password, false
	}
	return c.PostForm("username"), c.PostForm("password"), true
}

// validScheduleTime accepts HH:MM in 24-hour form.
func validScheduleTime(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil && len(s) == 5
}

// canUseCustomTasks checks the live permission, not the session snapshot, so
// a revocation takes effect without waiting for the session to expire.
func canUseCustomTasks(ctx context.Context, users UserRepository, who Identity) bool {
	if who.IsAdmin {
		return true
	}
	u, err := users.FindByID(ctx, who.UserID)
	if err != nil {
		return false
	}
	return u.Enabled && (u.IsAdmin || u.CanCustomTask)
}
