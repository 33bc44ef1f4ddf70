package http

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bizhanchik/Nerdie/internal/config"
	"github.com/bizhanchik/Nerdie/internal/services"
	"github.com/bizhanchik/Nerdie/internal/storage"
)

type Server struct {
	engine *gin.Engine
	cfg    config.Config
}

func NewServer(cfg config.Config, log *logrus.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	fm, err := storage.NewFileManager(cfg.DataDir, cfg.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("init file manager: %w", err)
	}

	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	openaiSvc := services.NewOpenAIService(cfg)
	pipeline := services.NewPipeline(store, openaiSvc, log)
	lessons := services.NewLessonGenerator(store, openaiSvc, log)
	chat := services.NewChatService(store, openaiSvc, log)
	pdfSvc := services.NewPDFService()
	shareSvc := services.NewShareService(cfg)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(log))
	engine.Use(MaxBodySize(cfg.MaxUploadBytes))
	engine.Use(CORS())

	api := NewAPI(cfg, fm, store, pipeline, lessons, chat, pdfSvc, shareSvc, log)
	registerRoutes(engine, api)

	return &Server{engine: engine, cfg: cfg}, nil
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.cfg.Port)
	return s.engine.Run(addr)
}
