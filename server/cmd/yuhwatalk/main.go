package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"yuhwa-talk/server/internal/affect"
	"yuhwa-talk/server/internal/api"
	"yuhwa-talk/server/internal/config"
	"yuhwa-talk/server/internal/gateway"
	"yuhwa-talk/server/internal/llm"
	"yuhwa-talk/server/internal/orchestrator"
	"yuhwa-talk/server/internal/persona"
	"yuhwa-talk/server/internal/rag"
	"yuhwa-talk/server/internal/sound"
	"yuhwa-talk/server/internal/stt"
	"yuhwa-talk/server/internal/timeline"
	"yuhwa-talk/server/internal/tts"
)

func main() {
	// 本地单会话优先：参数用 flag，敏感信息（GEMINI_API_KEY 等）用环境变量，
	// 其余全部走 yaml 配置。
	configPath := flag.String("config", "server/configs/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := log.Default()

	// 情感系统
	keywords := affect.LoadKeywordConfig(cfg.Affect.KeywordsPath, logger)
	affectState := affect.NewState(keywords, logger)

	// 推理调度
	manager := llm.NewManager(cfg.LLM, logger)

	// 语音合成与播放
	synth := tts.NewSynthesizer(cfg.TTS, logger)
	player := tts.NewPlayer(logger)

	// 语音识别（关闭时编排器拿到 nil，空文本提交直接回待机）
	var recognizer *stt.Recognizer
	if cfg.STT.Enabled {
		recognizer = stt.NewRecognizer(cfg.STT, stt.FixtureRecorder{Source: cfg.STT.RecordingPath}, logger)
	}

	// 知识检索（打开失败时自动降级为空检索）
	retriever := rag.NewRetriever(cfg.RAG, logger)

	// 人格与提示词
	builder := persona.NewBuilder(cfg.Persona, cfg.LLM, logger)

	// 环境音导演
	director := sound.NewDirector(cfg.Sound, logger)

	// 回合日志：配了 Redis 用 Redis，否则内存
	var tl timeline.Store
	if cfg.Session.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("connect redis %s: %v", cfg.Session.RedisAddr, err)
		}
		tl = timeline.NewRedisStore(client, cfg.Session.RedisPrefix)
		logger.Printf("[Main] timeline: redis at %s", cfg.Session.RedisAddr)
	} else {
		tl = timeline.NewInMemoryStore()
		logger.Printf("[Main] timeline: in-memory")
	}

	// 编排器与回合循环。Recognizer 是指针接收者实现，nil 时必须保持
	// 接口本身为 nil，不能直接塞进 Deps。
	deps := orchestrator.Deps{
		Affect:    affectState,
		Inference: manager,
		Synth:     synth,
		Player:    player,
		Retriever: retriever,
		Persona:   builder,
		Ambience:  director,
		Timeline:  tl,
		SessionID: cfg.Session.ID,
		Logger:    logger,
	}
	if recognizer != nil {
		deps.Recognizer = recognizer
	}
	orc := orchestrator.New(deps)
	loop := orchestrator.NewLoop(orc, cfg.Server.TickInterval, logger)

	// 网关：揭示时钟与出站事件都走这里
	gw := gateway.New(loop, player, cfg.Server.RevealCPS, logger)
	orc.SetReveal(gw.Revealer())
	orc.SetInputGate(gw)
	director.SetNotify(gw.NotifyAmbience)
	player.SetNotify(gw.NotifyAudio)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go loop.Run(ctx)

	server := api.NewServer(cfg, loop, gw, tl)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Printf("[Main] shutting down")
		httpServer.Shutdown(context.Background())
	}()

	logger.Printf("[Main] yuhwatalk server listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}
}
