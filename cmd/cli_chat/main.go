package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"stream-chat/internal/client"
	"stream-chat/internal/config"
	"stream-chat/internal/domain"
	"stream-chat/internal/stream"
)

var (
	userLabel  = color.New(color.FgGreen, color.Bold).SprintFunc()
	modelLabel = color.New(color.FgCyan, color.Bold).SprintFunc()
	otherLabel = color.New(color.FgYellow).SprintFunc()
	errorText  = color.New(color.FgRed).SprintFunc()
	dimText    = color.New(color.Faint).SprintFunc()
)

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewNop()
	if cfg.ChatDebug {
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatal(err)
		}
	}
	defer logger.Sync()

	chatClient := client.NewChatClient(cfg.ChatBaseURL, client.NewHTTPClient(cfg.ChatResponseHeaderTimeout), logger)
	controller := stream.NewController(chatClient, stream.NewGuard(), logger)

	// Ctrl+C corta el stream en curso; sin stream, sale.
	var inFlight atomic.Bool
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigs {
			if inFlight.Load() {
				controller.Abort()
				continue
			}
			fmt.Println("\nChau.")
			os.Exit(0)
		}
	}()

	fmt.Println(modelLabel("===== Chat ====="))
	fmt.Printf("Backend: %s\n", cfg.ChatBaseURL)

	for {
		conv, err := selectConversation(ctx, reader, chatClient)
		if err != nil {
			log.Fatalf("elegir conversacion: %v", err)
		}
		if conv == nil {
			return
		}

		if err := controller.Open(ctx, conv.ID); err != nil {
			fmt.Println(errorText("No se pudo cargar el historial: " + err.Error()))
			controller.DismissError()
		}
		printTranscript(controller.Snapshot().Messages)

		if quit := chatLoop(ctx, reader, controller, &inFlight); quit {
			return
		}
	}
}

// chatLoop devuelve true si el usuario pidio salir del programa.
func chatLoop(ctx context.Context, reader *bufio.Reader, controller *stream.Controller, inFlight *atomic.Bool) bool {
	fmt.Println(dimText("Comandos: /refrescar, /cambiar, salir. Ctrl+C corta la respuesta."))
	for {
		fmt.Print(userLabel("Vos: "))
		line, err := reader.ReadString('\n')
		if err != nil {
			return true
		}
		input := strings.TrimSpace(line)

		switch strings.ToLower(input) {
		case "":
			continue
		case "salir", "exit":
			return true
		case "/cambiar":
			return false
		case "/refrescar":
			if err := controller.Refresh(ctx); err != nil {
				fmt.Println(errorText("Error al refrescar: " + err.Error()))
				continue
			}
			printTranscript(controller.Snapshot().Messages)
			continue
		}

		r := newRenderer(len(controller.Snapshot().Messages) + 1)
		inFlight.Store(true)
		err = controller.Submit(ctx, input, r.update)
		inFlight.Store(false)
		r.finish()

		switch {
		case err == nil:
		case errors.Is(err, stream.ErrSessionAborted):
			fmt.Println(dimText("(respuesta cortada)"))
		case errors.Is(err, stream.ErrConcurrentSend):
			fmt.Println(errorText("Ya hay un mensaje en curso en esta conversacion."))
		default:
			var te *stream.TransportError
			if errors.As(err, &te) && te.Retryable() {
				fmt.Println(errorText("Error de red, podes reintentar: " + te.Error()))
			} else {
				fmt.Println(errorText("Error: " + err.Error()))
			}
			controller.DismissError()
		}
	}
}

func selectConversation(ctx context.Context, reader *bufio.Reader, c *client.ChatClient) (*domain.Conversation, error) {
	for {
		convs, err := c.ListConversations(ctx)
		if err != nil {
			return nil, err
		}

		fmt.Println("\nConversaciones:")
		for i, conv := range convs {
			fmt.Printf("[%d] %s (%s, %s)\n", i+1, conv.ID, conv.RoleType, conv.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Println("[N] Nueva conversacion")
		fmt.Println("[S] Salir")
		fmt.Print("Selecciona: ")

		choice, err := reader.ReadString('\n')
		if err != nil {
			return nil, nil
		}
		choice = strings.TrimSpace(choice)

		switch strings.ToUpper(choice) {
		case "S":
			return nil, nil
		case "N":
			fmt.Print("Rol (enter para default): ")
			roleType, _ := reader.ReadString('\n')
			conv, err := c.CreateConversation(ctx, strings.TrimSpace(roleType))
			if err != nil {
				fmt.Println(errorText("No se pudo crear: " + err.Error()))
				continue
			}
			return &conv, nil
		}

		idx, err := strconv.Atoi(choice)
		if err != nil || idx < 1 || idx > len(convs) {
			fmt.Println("Seleccion invalida.")
			continue
		}
		return &convs[idx-1], nil
	}
}

func printTranscript(msgs []domain.Message) {
	fmt.Println()
	for _, m := range msgs {
		fmt.Printf("%s %s\n", label(m.Role), m.Content)
	}
	fmt.Println()
}

func label(role string) string {
	switch role {
	case domain.RoleUser:
		return userLabel("Vos:")
	case domain.RoleModel:
		return modelLabel("Modelo:")
	default:
		return otherLabel(role + ":")
	}
}

// renderer imprime los snapshots de forma incremental. Los mensajes antes de skip
// ya estan en pantalla (incluido el que tipeo el usuario); solo el ultimo impreso
// puede seguir creciendo.
type renderer struct {
	skip    int
	current int
	printed string
	open    bool
}

func newRenderer(skip int) *renderer {
	return &renderer{skip: skip, current: -1}
}

func (r *renderer) update(snap stream.Snapshot) {
	for i := r.skip; i < len(snap.Messages); i++ {
		m := snap.Messages[i]
		if i > r.current {
			r.finish()
			fmt.Printf("%s ", label(m.Role))
			r.current, r.printed, r.open = i, "", true
		}
		if strings.HasPrefix(m.Content, r.printed) {
			fmt.Print(m.Content[len(r.printed):])
		} else {
			// El servidor reescribio el contenido: se reimprime completo.
			fmt.Printf("\n%s %s", label(m.Role), m.Content)
		}
		r.printed = m.Content
	}
	if r.current > r.skip {
		r.skip = r.current
	}
}

func (r *renderer) finish() {
	if r.open {
		fmt.Println()
		r.open = false
	}
}
