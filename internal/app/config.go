package app

import (
	"strings"
	"time"

	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	"github.com/procurelabs/vendorgate-backend/internal/utils"
)

type Config struct {
	MasterSecret string
	AllowOrigins []string

	CookieName   string
	CookieDomain string
	CookieSecure bool

	CSRFHeaderName string

	AdminToken     string
	EchoMagicLinks bool

	DefinitionsDir    string
	InvoiceConfigPath string

	ProcessorLookback time.Duration
	ProcessorConsumer string
	ProcessorMinIdle  time.Duration

	SweepInterval time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	origins := utils.GetEnv("ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", log)
	return Config{
		MasterSecret:      utils.GetEnv("MASTER_SECRET", "defaultsecret", log),
		AllowOrigins:      strings.Split(origins, ","),
		CookieName:        utils.GetEnv("SESSION_COOKIE_NAME", "vg_session", log),
		CookieDomain:      utils.GetEnv("SESSION_COOKIE_DOMAIN", "", log),
		CookieSecure:      utils.GetEnvAsBool("SESSION_COOKIE_SECURE", false, log),
		CSRFHeaderName:    utils.GetEnv("CSRF_HEADER_NAME", "X-CSRF-Token", log),
		AdminToken:        utils.GetEnv("ADMIN_TOKEN", "", log),
		EchoMagicLinks:    utils.GetEnvAsBool("ECHO_MAGIC_LINKS", false, log),
		DefinitionsDir:    utils.GetEnv("DEFINITIONS_DIR", "configs/definitions", log),
		InvoiceConfigPath: utils.GetEnv("INVOICE_CONFIG_PATH", "configs/invoice_review.yaml", log),
		ProcessorLookback: utils.GetEnvAsDuration("PROCESSOR_LOOKBACK", 10*time.Minute, log),
		ProcessorConsumer: utils.GetEnv("PROCESSOR_CONSUMER", "ctf_processor_1", log),
		ProcessorMinIdle:  utils.GetEnvAsDuration("PROCESSOR_MIN_IDLE", time.Minute, log),
		SweepInterval:     utils.GetEnvAsDuration("SESSION_SWEEP_INTERVAL", time.Hour, log),
	}
}
