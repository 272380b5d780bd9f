package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"stream-chat/internal/client"
	"stream-chat/internal/config"
	apihttp "stream-chat/internal/http"
	"stream-chat/internal/service"
	"stream-chat/internal/stream"
)

// Scenario es un turno de chat con la respuesta que debe converger en pantalla.
type Scenario struct {
	Name   string
	Input  string
	Chunks []string
}

var (
	cyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed, color.Bold).SprintFunc()
)

var scenarios = []Scenario{
	{Name: "saludo", Input: "Hola.", Chunks: []string{"Ho", "la", ", que", " tal?"}},
	{Name: "multibyte", Input: "¿Como se dice gracias en japones?", Chunks: []string{"あり", "がと", "う 🙏"}},
	{Name: "prompt repetido", Input: "Hola.", Chunks: []string{"Otra ", "vez ", "hola."}},
	{Name: "respuesta larga", Input: "Contame algo", Chunks: strings.Split(strings.Repeat("bla ", 200), " ")},
}

func main() {
	live := flag.Bool("live", false, "usar el backend de CHAT_BASE_URL en lugar de uno en memoria")
	delay := flag.Duration("delay", 2*time.Millisecond, "pausa entre chunks del modelo simulado")
	flag.Parse()

	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewNop()
	if cfg.ChatDebug {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	baseURL := cfg.ChatBaseURL
	var llmMock *scriptedLLM
	if !*live {
		llmMock = &scriptedLLM{delay: *delay}
		srv := httptest.NewServer(newInMemoryBackend(llmMock, logger))
		defer srv.Close()
		baseURL = srv.URL
	}

	chatClient := client.NewChatClient(baseURL, client.NewHTTPClient(cfg.ChatResponseHeaderTimeout), logger)
	conv, err := chatClient.CreateConversation(ctx, "stream-check")
	if err != nil {
		log.Fatalf("crear conversacion: %v", err)
	}

	controller := stream.NewController(chatClient, nil, logger)
	if err := controller.Open(ctx, conv.ID); err != nil {
		log.Fatalf("abrir conversacion: %v", err)
	}

	failed := 0
	for _, sc := range scenarios {
		fmt.Printf("%s %s\n", cyan("[Input]"), sc.Input)
		want := strings.Join(sc.Chunks, "")
		if llmMock != nil {
			llmMock.script(sc.Chunks)
		}

		from := len(controller.Snapshot().Messages)
		updates := 0
		if err := controller.Submit(ctx, sc.Input, func(stream.Snapshot) { updates++ }); err != nil {
			log.Fatalf("submit %q: %v", sc.Name, err)
		}
		local := controller.Snapshot().Messages

		history, err := chatClient.GetChatHistory(ctx, conv.ID)
		if err != nil {
			log.Fatalf("historial: %v", err)
		}
		if *live {
			// Contra un modelo real la respuesta no es conocida de antemano.
			if n := len(history); n > 0 {
				want = history[n-1].Content
			}
		}

		v := judgeTranscript(sc.Input, want, from, local, history)
		if err := controller.Refresh(ctx); err != nil {
			log.Fatalf("refresh: %v", err)
		}
		if !sameConversation(controller.Snapshot().Messages, history) {
			v.Problems = append(v.Problems, "el refresh no converge con el historial")
		}

		fmt.Printf("Snapshots: %d | Mensajes: %d\n", updates, len(local))
		if v.ok() {
			fmt.Printf("%s %s\n\n", green("OK"), sc.Name)
			continue
		}
		failed++
		for _, p := range v.Problems {
			fmt.Printf("%s %s: %s\n", red("FALLA"), sc.Name, p)
		}
		fmt.Println()
	}

	fmt.Println("==== Resumen ====")
	fmt.Printf("Escenarios: %d | Fallas: %d\n", len(scenarios), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func newInMemoryBackend(llmClient *scriptedLLM, logger *zap.Logger) http.Handler {
	msgRepo := newMemoryMessageRepo()
	convSvc := service.NewConversationService(newMemoryConversationRepo())
	msgSvc := service.NewMessageService(msgRepo)
	ctxSvc := service.NewHistoryContextService(msgRepo, 20, "")
	chatSvc := service.NewChatService(llmClient, msgRepo, convSvc, ctxSvc, service.NewMemorySendLock(time.Minute), logger)
	return apihttp.NewRouter(logger,
		apihttp.NewChatHandler(logger, chatSvc, msgSvc, convSvc),
		apihttp.NewConversationHandler(logger, convSvc),
	)
}
