package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/authgate/internal/authgate"
	"github.com/tyemirov/authgate/internal/authgatepg"
	"github.com/tyemirov/authgate/internal/web"
	webassets "github.com/tyemirov/authgate/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildIdentityValidator = func(ctx context.Context, clientID string) (authgate.IDTokenValidator, error) {
	return authgate.NewGoogleIDTokenValidator(ctx, clientID)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "authgate",
		Short:   "Authentication gate with dual-mode authorization, stateless credentials, and OAuth token refresh",
		PreRunE: prepareServiceConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("provider_name", "provider", "OAuth provider name used in logs and error codes")
	rootCmd.Flags().String("client_id", "", "OAuth client id")
	rootCmd.Flags().String("client_secret", "", "OAuth client secret")
	rootCmd.Flags().String("auth_url", "", "Provider authorization endpoint")
	rootCmd.Flags().String("token_url", "", "Provider token endpoint")
	rootCmd.Flags().String("userinfo_url", "", "Provider userinfo endpoint")
	rootCmd.Flags().String("upload_url", "", "Provider upload endpoint used by /api/upload")
	rootCmd.Flags().String("callback_url", "", "OAuth callback URL registered with the provider")
	rootCmd.Flags().String("scope", "", "Scope requested from the provider")
	rootCmd.Flags().String("login_route", "/auth/login", "Route unauthenticated browsers are redirected to")
	rootCmd.Flags().String("signing_secret", "", "HS256 signing secret for bearer credentials")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Duration("session_ttl", 12*time.Hour, "Interactive session lifetime")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "User store URL (postgres://, pgx+postgres://, or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Bool("validate_id_token", false, "Validate Google-issued id_token on callback")

	for _, flagName := range []string{
		"listen_addr", "provider_name", "client_id", "client_secret", "auth_url",
		"token_url", "userinfo_url", "upload_url", "callback_url", "scope",
		"login_route", "signing_secret", "cookie_domain", "session_ttl",
		"dev_insecure_http", "database_url", "enable_cors",
		"cors_allowed_origins", "validate_id_token",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName = "gate_session"

	configCodeMissingClientID         = "config.missing_client_id"
	configCodeMissingClientSecret     = "config.missing_client_secret"
	configCodeMissingTokenURL         = "config.missing_token_url"
	configCodeMissingSigningSecret    = "config.missing_signing_secret"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeUninitializedServerConf = "config.uninitialized_service_config"
	configCodeIdentityValidatorInit   = "config.identity_validator_init"
)

type contextKey string

const serviceConfigContextKey contextKey = "serviceConfig"

func prepareServiceConfig(command *cobra.Command, arguments []string) error {
	serviceConfig, loadErr := LoadServiceConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serviceConfigContextKey, serviceConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServiceConfig() (authgate.ServiceConfig, error) {
	clientID := viper.GetString("client_id")
	if clientID == "" {
		return authgate.ServiceConfig{}, configError(configCodeMissingClientID, "client_id must be provided")
	}

	clientSecret := viper.GetString("client_secret")
	if clientSecret == "" {
		return authgate.ServiceConfig{}, configError(configCodeMissingClientSecret, "client_secret must be provided")
	}

	tokenURL := viper.GetString("token_url")
	if tokenURL == "" {
		return authgate.ServiceConfig{}, configError(configCodeMissingTokenURL, "token_url must be provided")
	}

	signingSecret := viper.GetString("signing_secret")
	if signingSecret == "" {
		return authgate.ServiceConfig{}, configError(configCodeMissingSigningSecret, "signing_secret must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return authgate.ServiceConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	return authgate.ServiceConfig{
		ProviderName:      viper.GetString("provider_name"),
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		AuthURL:           viper.GetString("auth_url"),
		TokenURL:          tokenURL,
		UserInfoURL:       viper.GetString("userinfo_url"),
		UploadURL:         viper.GetString("upload_url"),
		CallbackURL:       viper.GetString("callback_url"),
		Scope:             viper.GetString("scope"),
		LoginRoute:        viper.GetString("login_route"),
		SigningSecret:     []byte(signingSecret),
		SessionCookieName: sessionCookieName,
		CookieDomain:      viper.GetString("cookie_domain"),
		SessionTTL:        sessionTTL,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serviceConfigContextKey)
	}
	serviceConfig, ok := contextValue.(authgate.ServiceConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "service configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	validateIDToken := viper.GetBool("validate_id_token")

	serviceConfig.AllowInsecureHTTP = devInsecureHTTP
	serviceConfig.SameSiteMode = http.SameSiteLaxMode
	if enableCORS {
		serviceConfig.SameSiteMode = http.SameSiteNoneMode
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	userStore, storeErr := buildUserStore(command.Context(), databaseURL, logger)
	if storeErr != nil {
		return storeErr
	}

	sessionStore := authgate.NewMemorySessionStore(serviceConfig.SessionTTL)
	codec := authgate.NewClaimsCodec(serviceConfig.SigningSecret)
	metricsRecorder := authgate.NewCounterMetrics()
	providerClient := authgate.NewOAuthProviderClient(serviceConfig, &http.Client{Timeout: 30 * time.Second})

	var identityValidator authgate.IDTokenValidator
	if validateIDToken {
		validator, validatorErr := buildIdentityValidator(command.Context(), serviceConfig.ClientID)
		if validatorErr != nil {
			return fmt.Errorf("%s: %w", configCodeIdentityValidatorInit, validatorErr)
		}
		identityValidator = validator
	}

	gate := authgate.NewAuthGate(codec, userStore, sessionStore, serviceConfig, logger, metricsRecorder)
	refresher := authgate.NewTokenRefresher(providerClient, userStore, logger, metricsRecorder)
	flow := authgate.NewLoginFlowController(providerClient, userStore, sessionStore, codec, identityValidator, serviceConfig, logger, metricsRecorder)

	authgate.MountAuthRoutes(router, flow)

	router.GET("/static/auth-client.js", func(contextGin *gin.Context) {
		web.ServeEmbeddedStaticJS(contextGin, webassets.FS, "auth-client.js")
	})
	router.GET("/demo/config.js", func(contextGin *gin.Context) {
		web.ServeDemoConfig(contextGin, web.DemoConfig{
			ProviderName: serviceConfig.ProviderName,
			LoginRoute:   serviceConfig.LoginRoute,
		})
	})

	protected := router.Group("/api")
	protected.Use(gate.RequireAuthorized())
	protected.GET("/me", web.HandleProfile(logger))
	protected.POST("/upload", refresher.RefreshTokens(), web.HandleUpload(&http.Client{Timeout: 2 * time.Minute}, serviceConfig.UploadURL, logger))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func buildUserStore(ctx context.Context, databaseURL string, logger *zap.Logger) (authgate.UserStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch {
	case databaseURL == "":
		logger.Info("using in-memory user store")
		return authgate.NewMemoryUserStore(), nil
	case strings.HasPrefix(databaseURL, "pgx+"):
		pool, poolErr := authgatepg.BuildPool(ctx, strings.TrimPrefix(databaseURL, "pgx+"))
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := authgatepg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, schemaErr
		}
		logger.Info("using pgx user store")
		return authgatepg.NewPostgresUserStore(pool), nil
	default:
		store, storeErr := authgate.NewDatabaseUserStore(ctx, databaseURL)
		if storeErr != nil {
			return nil, storeErr
		}
		logger.Info("using persistent user store", zap.String("driver", store.Driver()))
		return store, nil
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
