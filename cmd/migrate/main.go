package main

import (
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"clonetwitter/internal/config"
	"clonetwitter/internal/storage"
)

// 迁移命令：按配置连接关系库并执行 AutoMigrate，无需启动 HTTP 服务。
// 用法：go run ./cmd/migrate [-config path] [-driver mysql|postgres|sqlite]
func main() {
	cfgPath := flag.String("config", "", "config file (yaml/json); defaults to ./config.yaml if present")
	driver := flag.String("driver", "", "override database.driver")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	log.SetOutput(os.Stdout)

	cfg := config.Load()
	if *cfgPath != "" {
		if err := config.LoadFile(*cfgPath, &cfg); err != nil {
			log.WithError(err).Fatal("load config")
		}
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}

	start := time.Now()
	db, err := storage.InitDatabase(cfg)
	if err != nil {
		log.WithError(err).WithField("dsn", cfg.Database.DSNMasked()).Fatal("migrate failed")
	}
	defer storage.CloseDatabase(db)

	log.WithFields(log.Fields{
		"driver":     cfg.Database.Driver,
		"dsn":        cfg.Database.DSNMasked(),
		"tables":     storage.Tables(db),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("schema up to date")
}
