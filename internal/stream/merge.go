package stream

import (
	"go.uber.org/zap"

	"stream-chat/internal/domain"
)

// Rebase reemplaza el transcript de la sesion por un snapshot de historial y vuelve a
// aplicar encima los mensajes que la sesion ya habia reconciliado, con las mismas reglas
// de identidad. Devuelve el transcript nuevo; la sesion sigue escribiendo sobre el.
func (r *Reconciler) Rebase(history []domain.Message) *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.transcript.Messages()
	prompt := r.optimistic
	var pending []domain.Message
	if r.floor >= 0 && r.floor < len(old) {
		prompt = old[r.floor]
		pending = old[r.floor+1:]
	}

	t := NewTranscript(history)
	t.copyStatus(r.transcript)

	anchor := lastIndexOfRole(history, domain.RoleUser)
	if anchor >= 0 && anchored(history, anchor, prompt, pending) {
		r.floor = anchor
	} else {
		r.floor = t.Append(prompt)
	}

	r.transcript = t
	r.lastModel = t.find(r.floor, func(m domain.Message) bool { return m.Role == domain.RoleModel })
	for _, m := range pending {
		// El historial es la fuente de verdad para lo que ya persistio.
		if t.find(r.floor, func(e domain.Message) bool { return SameIdentity(e, m) }) >= 0 {
			continue
		}
		r.apply(m)
	}
	return t
}

// anchored decide si history[anchor] es el prompt local. Con ids en ambos lados decide
// el id. Sin ids el contenido no alcanza: un prompt repetido coincidiria con uno viejo,
// asi que ademas todo lo que sigue al anchor en el historial debe ser un mensaje que la
// sesion ya tiene.
func anchored(history []domain.Message, anchor int, prompt domain.Message, pending []domain.Message) bool {
	h := history[anchor]
	if h.ID != "" && prompt.ID != "" {
		return h.ID == prompt.ID
	}
	if h.Content != prompt.Content {
		return false
	}
	for _, f := range history[anchor+1:] {
		if !containsIdentity(pending, f) {
			return false
		}
	}
	return true
}

func containsIdentity(msgs []domain.Message, m domain.Message) bool {
	for _, e := range msgs {
		if SameIdentity(e, m) {
			return true
		}
	}
	return false
}

// MergeHistory combina un historial con un transcript local cuya sesion empezo en floor.
// Lo ya visible localmente nunca se pierde aunque el historial venga atrasado.
func MergeHistory(history, live []domain.Message, floor int, logger *zap.Logger) []domain.Message {
	if floor < 0 || floor >= len(live) {
		out := make([]domain.Message, len(history))
		copy(out, history)
		return out
	}
	r := NewReconciler(NewTranscript(live), live[floor], floor, logger)
	r.echoPending = false
	return r.Rebase(history).Messages()
}

func lastIndexOfRole(msgs []domain.Message, role string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return i
		}
	}
	return -1
}

func (t *Transcript) copyStatus(from *Transcript) {
	if from == nil {
		return
	}
	from.mu.RLock()
	loading, streaming, err, version := from.loading, from.streaming, from.err, from.version
	from.mu.RUnlock()

	t.mu.Lock()
	t.loading, t.streaming, t.err = loading, streaming, err
	t.version += version + 1
	t.mu.Unlock()
}
