package main

import (
	"fmt"

	"stream-chat/internal/domain"
	"stream-chat/internal/stream"
)

// verdict resume el chequeo de un escenario sobre el transcript local y el historial.
type verdict struct {
	Duplicates     int
	EchoCount      int
	LastReply      string
	MatchesHistory bool
	Problems       []string
}

func (v verdict) ok() bool { return len(v.Problems) == 0 }

// judgeTranscript compara lo que vio el usuario contra lo que persistio el servidor.
// from es la posicion donde empezo el turno evaluado.
func judgeTranscript(input, wantReply string, from int, local, history []domain.Message) verdict {
	var v verdict

	v.Duplicates = countDuplicates(local)
	if v.Duplicates > 0 {
		v.Problems = append(v.Problems, fmt.Sprintf("%d pares de mensajes con la misma identidad", v.Duplicates))
	}

	for _, m := range local[min(from, len(local)):] {
		if m.Role == domain.RoleUser && m.Content == input {
			v.EchoCount++
		}
	}
	if v.EchoCount != 1 {
		v.Problems = append(v.Problems, fmt.Sprintf("el prompt aparece %d veces", v.EchoCount))
	}

	if n := len(local); n > 0 && local[n-1].Role == domain.RoleModel {
		v.LastReply = local[n-1].Content
	}
	if v.LastReply != wantReply {
		v.Problems = append(v.Problems, fmt.Sprintf("respuesta final %q, esperaba %q", v.LastReply, wantReply))
	}

	v.MatchesHistory = sameConversation(local, history)
	if !v.MatchesHistory {
		v.Problems = append(v.Problems, "el transcript local difiere del historial persistido")
	}
	return v
}

func countDuplicates(msgs []domain.Message) int {
	n := 0
	for i := range msgs {
		for j := i + 1; j < len(msgs); j++ {
			if stream.SameIdentity(msgs[i], msgs[j]) {
				n++
			}
		}
	}
	return n
}

// sameConversation compara role y contenido en orden. Los timestamps del optimista
// son locales, asi que no cuentan.
func sameConversation(a, b []domain.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Role != b[i].Role || a[i].Content != b[i].Content {
			return false
		}
	}
	return true
}
