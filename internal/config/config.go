package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DunningPolicy политика повторных списаний. Читается заново при каждом
// проходе механизма повторов, поэтому изменение конфигурации применяется
// без перезапуска процесса.
type DunningPolicy struct {
	// RetryLimit число неудачных списаний, после которого подписка
	// приостанавливается
	RetryLimit int `mapstructure:"retryLimit"`
	// BackoffDays интервалы в днях до следующей попытки, индекс —
	// номер неудачи начиная с первой
	BackoffDays []int `mapstructure:"backoffDays"`
}

// BackoffFor возвращает интервал в днях до повторной попытки после
// failedCount неудач. За пределами кривой действует последнее значение.
func (p DunningPolicy) BackoffFor(failedCount int) int {
	if len(p.BackoffDays) == 0 {
		return 1
	}
	idx := failedCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.BackoffDays) {
		idx = len(p.BackoffDays) - 1
	}
	return p.BackoffDays[idx]
}

// Config представляет структуру конфигурации для приложения
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Enabled bool     `mapstructure:"enabled"`
	} `mapstructure:"kafka"`
	Provider struct {
		Name          string `mapstructure:"name"`
		BaseURL       string `mapstructure:"baseUrl"`
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		TimeoutSec    int    `mapstructure:"timeoutSec"`
	} `mapstructure:"provider"`
	Scheduler struct {
		BillingCron     string `mapstructure:"billingCron"`
		MandateSyncCron string `mapstructure:"mandateSyncCron"`
		DunningCron     string `mapstructure:"dunningCron"`
	} `mapstructure:"scheduler"`
	Dunning DunningPolicy `mapstructure:"dunning"`
	Sync    struct {
		// PaymentPollAgeHours минимальный возраст отправленного платежа
		// без терминального статуса, после которого синхронизатор
		// опрашивает провайдера
		PaymentPollAgeHours int `mapstructure:"paymentPollAgeHours"`
	} `mapstructure:"sync"`

	mu sync.RWMutex
}

// LoadConfig загружает конфигурацию из файла и переменных окружения.
// Секция dunning перечитывается при изменении файла конфигурации.
func LoadConfig(envPath string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("provider.timeoutSec", 15)
	viper.SetDefault("scheduler.billingCron", "0 6 * * *")
	viper.SetDefault("scheduler.mandateSyncCron", "0 * * * *")
	viper.SetDefault("scheduler.dunningCron", "30 6 * * *")
	viper.SetDefault("dunning.retryLimit", 3)
	viper.SetDefault("dunning.backoffDays", []int{1, 3, 7})
	viper.SetDefault("sync.paymentPollAgeHours", 24)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Файл конфигурации не обязателен: значения по умолчанию
		// плюс переменные окружения достаточны для запуска
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	viper.OnConfigChange(func(_ fsnotify.Event) {
		var policy DunningPolicy
		if err := viper.UnmarshalKey("dunning", &policy); err != nil {
			return
		}
		config.mu.Lock()
		config.Dunning = policy
		config.mu.Unlock()
	})
	viper.WatchConfig()

	return &config, nil
}

// DunningPolicy возвращает актуальную политику повторных списаний
func (c *Config) DunningPolicy() DunningPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Dunning
}

// SetDunningPolicy заменяет политику повторных списаний, в основном для тестов
func (c *Config) SetDunningPolicy(policy DunningPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Dunning = policy
}
