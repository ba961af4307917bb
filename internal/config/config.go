package config

import (
	"time"

	"concierge/pkg/config"
)

// Config stores environment configuration for the assistant.
type Config struct {
	Port            string
	AdminID         string
	VIPIDs          []string
	EnableAutoReply bool

	ScheduleFile string
	SeenFile     string
	ProductsFile string
	JobsSnapshot string

	JobsListingURL  string
	JobsInterval    time.Duration
	EnableRendering bool

	RenderWorkers     int
	RenderQueueSize   int
	RenderCommand     string
	ReplenishCommand  string
	RenderOutputDir   string
	ScheduledPostTime string
	BroadcastDelay    time.Duration

	CRMBaseURL      string
	CRMClientID     string
	CRMClientSecret string
	CRMListID       int
}

// LoadConfig loads the assistant configuration from environment
// variables.
func LoadConfig() Config {
	return Config{
		Port:            config.GetEnv("PORT", "18090"),
		AdminID:         config.GetEnv("ADMIN_ID", "966545888559@c.us"),
		VIPIDs:          config.GetEnvList("VIP_IDS"),
		EnableAutoReply: config.GetEnvBool("ENABLE_AUTO_REPLY", true),

		ScheduleFile: config.GetEnv("SCHEDULE_FILE", "data/tiktok_posts.json"),
		SeenFile:     config.GetEnv("SEEN_FILE", "data/seen_users.json"),
		ProductsFile: config.GetEnv("PRODUCTS_FILE", "data/store_data.json"),
		JobsSnapshot: config.GetEnv("JOBS_SNAPSHOT", "data/jobs.json"),

		JobsListingURL:  config.GetEnv("JOBS_LISTING_URL", ""),
		JobsInterval:    config.GetEnvDuration("JOBS_INTERVAL", 24*time.Hour),
		EnableRendering: config.GetEnvBool("FEED_ENABLE_RENDERING", false),

		RenderWorkers:     config.GetEnvInt("RENDER_WORKERS", 1),
		RenderQueueSize:   config.GetEnvInt("RENDER_QUEUE_SIZE", 8),
		RenderCommand:     config.GetEnv("RENDER_COMMAND", ""),
		ReplenishCommand:  config.GetEnv("REPLENISH_COMMAND", ""),
		RenderOutputDir:   config.GetEnv("RENDER_OUTPUT_DIR", "videos"),
		ScheduledPostTime: config.GetEnv("SCHEDULED_POST_TIME", "18:00"),
		BroadcastDelay:    config.GetEnvDuration("BROADCAST_DELAY", time.Second),

		CRMBaseURL:      config.GetEnv("CRM_BASE_URL", ""),
		CRMClientID:     config.GetEnv("CRM_CLIENT_ID", ""),
		CRMClientSecret: config.GetEnv("CRM_CLIENT_SECRET", ""),
		CRMListID:       config.GetEnvInt("CRM_LIST_ID", 525659),
	}
}
