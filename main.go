package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/logging"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/redis"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/vision"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	JwtPrivateKeyPath string `json:"jwt_private_key_path"`
	JwtIssuer         string `json:"jwt_issuer"`
	TokenLifetimeMins int    `json:"token_lifetime_mins,omitempty"`

	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
	AdminPhone    string `json:"admin_phone,omitempty"`

	SmsGatewayUrl   string  `json:"sms_gateway_url,omitempty"`
	SmsGatewayKey   string  `json:"sms_gateway_key,omitempty"`
	FaceServiceUrl  string  `json:"face_service_url,omitempty"`
	FaceMatchMinSim float64 `json:"face_match_min_similarity,omitempty"`

	PaymentWebhookSecret string `json:"payment_webhook_secret"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		slog.Error("please provide a config path using the --config flag")
		os.Exit(1)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "error", err)
		os.Exit(1)
	}

	logging.InitLogger(config.LogLevel, config.LogFormat)
	slog.Info("using config", "path", *configPath)
	slog.Info("hosting on", "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	tokenIssuer, err := NewRsaTokenIssuer(
		config.JwtPrivateKeyPath,
		config.JwtIssuer,
		time.Duration(config.TokenLifetimeMins)*time.Minute,
	)
	if err != nil {
		slog.Error("failed to instantiate token issuer", "error", err)
		os.Exit(1)
	}

	users, otps, err := createStores(&config)
	if err != nil {
		slog.Error("failed to instantiate storage", "error", err)
		os.Exit(1)
	}

	if err := seedAdminAccount(users, &config); err != nil {
		slog.Error("failed to seed admin account", "error", err)
		os.Exit(1)
	}

	var sms SmsSender
	if config.SmsGatewayUrl != "" {
		sms = NewHttpSmsClient(config.SmsGatewayUrl, config.SmsGatewayKey)
	} else {
		slog.Warn("no SMS gateway configured, messages go to the log")
		sms = LogSmsSender{}
	}

	var faceClient FaceMatchClient
	if config.FaceServiceUrl != "" {
		client := NewHttpFaceMatchClient(config.FaceServiceUrl, config.FaceMatchMinSim)
		if err := client.HealthCheck(); err != nil {
			slog.Warn("face match service health check failed", "error", err)
		}
		faceClient = client
	} else {
		slog.Warn("no face match service configured, locker verification is disabled")
	}

	serverState := ServerState{
		tokenIssuer:          tokenIssuer,
		users:                users,
		otps:                 otps,
		sms:                  sms,
		faceClient:           faceClient,
		visionConfig:         vision.DefaultConfig(),
		adminEmail:           config.AdminEmail,
		paymentWebhookSecret: config.PaymentWebhookSecret,
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	err = server.ListenAndServe()
	if err != nil {
		slog.Error("failed to listen and serve", "error", err)
		os.Exit(1)
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func createStores(config *Config) (UserStore, OtpStore, error) {
	if config.StorageType == "redis" {
		slog.Info("Using redis storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, nil, err
		}
		ns := config.RedisConfig.Namespace
		return NewRedisUserStore(client, ns), NewRedisOtpStore(client, ns), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, nil, err
		}
		ns := config.RedisSentinelConfig.Namespace
		return NewRedisUserStore(client, ns), NewRedisOtpStore(client, ns), nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory storage")
		return NewInMemoryUserStore(), NewInMemoryOtpStore(), nil
	}
	return nil, nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}

// seedAdminAccount makes sure the configured admin exists and can log in.
func seedAdminAccount(users UserStore, config *Config) error {
	if config.AdminEmail == "" || config.AdminPassword == "" {
		return fmt.Errorf("admin_email and admin_password must be configured")
	}

	if _, err := users.GetByEmail(config.AdminEmail); err == nil {
		return nil
	} else if err != ErrUserNotFound {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(config.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &UserRecord{
		User: models.User{
			Id:          uuid.NewString(),
			FullName:    "Administrator",
			Email:       config.AdminEmail,
			PhoneNumber: config.AdminPhone,
			Status:      models.StatusActive,
			Nominees:    []models.Nominee{},
			CreatedAt:   time.Now().UTC(),
		},
		PasswordHash: string(hash),
	}
	if err := users.CreateUser(admin); err != nil {
		return err
	}

	slog.Info("Admin account seeded", "email", config.AdminEmail)
	return nil
}
