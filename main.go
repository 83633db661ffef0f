package main

import (
	"coder_edu_progress/internal/app"
	"coder_edu_progress/internal/config"
	"coder_edu_progress/internal/util"
	"flag"
	"fmt"
	"log"
)

func main() {
	// 命令行参数
	mode := flag.String("mode", util.ModeBackend, "运行模式：backend 后端数据接口，agent 客户端进度代理")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	issueToken := flag.Uint("issue-token", 0, "为指定用户签发一个 token 后退出，供进度代理调试使用")
	role := flag.String("role", util.RoleStudent, "签发 token 时使用的角色")
	flag.Parse()

	cfg, err := config.LoadConfig(app.ConfigDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cfg.Mode = *mode
	cfg.MigrateOnly = *migrateOnly

	if *issueToken != 0 {
		token, err := util.GenerateJWT(*issueToken, *role, cfg.JWT.Secret, cfg.JWT.ExpireTime)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// 迁移完成后直接退出
	if cfg.MigrateOnly {
		if err := app.Migrate(cfg); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Println("数据库迁移完成，退出程序")
		return
	}

	switch cfg.Mode {
	case util.ModeBackend:
		app.NewApp(cfg).Run()
	case util.ModeAgent:
		app.NewAgent(cfg).Run()
	default:
		log.Fatalf("unknown mode %q", cfg.Mode)
	}
}
