package stream

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"stream-chat/internal/domain"
)

// Action es la decision que tomo el Reconciler para un registro.
type Action int

const (
	ActionAppend Action = iota + 1
	ActionReplace
	ActionDropEcho
	ActionDropDuplicate
	ActionDropStale
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionAppend:
		return "append"
	case ActionReplace:
		return "replace"
	case ActionDropEcho:
		return "drop_echo"
	case ActionDropDuplicate:
		return "drop_duplicate"
	case ActionDropStale:
		return "drop_stale"
	case ActionSkip:
		return "skip"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision describe el efecto de una transicion. Index es -1 si el transcript no cambio.
type Decision struct {
	Action  Action
	Index   int
	Message domain.Message
	Failure error
}

// Changed indica si la decision muto el transcript.
func (d Decision) Changed() bool {
	return d.Action == ActionAppend || d.Action == ActionReplace
}

// Reconciler fusiona registros entrantes en un Transcript respetando identidad y orden.
//
// Los mensajes con indice menor a floor pertenecen a sesiones anteriores y son inmutables.
// El mensaje optimista vive en floor.
type Reconciler struct {
	mu          sync.Mutex
	transcript  *Transcript
	optimistic  domain.Message
	echoToken   string
	echoPending bool
	floor       int
	lastModel   int
	seen        map[string]struct{}
	logger      *zap.Logger
}

// NewReconciler crea el estado de reconciliacion de una sesion. optimistic es el mensaje
// de usuario ya renderizado localmente; floor es su posicion en el transcript.
func NewReconciler(t *Transcript, optimistic domain.Message, floor int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		transcript:  t,
		optimistic:  optimistic,
		echoToken:   optimistic.Content,
		echoPending: optimistic.Content != "",
		floor:       floor,
		seen:        make(map[string]struct{}),
		logger:      logger,
	}
	r.lastModel = t.find(floor, func(m domain.Message) bool { return m.Role == domain.RoleModel })
	return r
}

// ApplyLine procesa una linea completa del stream: dedup por contenido exacto, parseo y Apply.
func (r *Reconciler) ApplyLine(line string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[line]; dup {
		r.logger.Debug("duplicate line dropped", zap.String("line", truncate(line)))
		return Decision{Action: ActionDropDuplicate, Index: -1}
	}
	r.seen[line] = struct{}{}

	switch res := ParseLine(line).(type) {
	case Record:
		return r.apply(res.Message)
	case NotJSON, MalformedJSON, MissingField:
		failure := AsFailure(res)
		r.logger.Debug("record parse failure",
			zap.Error(failure),
			zap.String("line", truncate(line)),
		)
		return Decision{Action: ActionSkip, Index: -1, Failure: failure}
	default:
		return Decision{Action: ActionSkip, Index: -1, Failure: fmt.Errorf("unknown parse result %T", res)}
	}
}

// Apply aplica las reglas de transicion a un registro ya parseado, en orden de llegada.
func (r *Reconciler) Apply(m domain.Message) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(m)
}

func (r *Reconciler) apply(m domain.Message) Decision {
	if r.isEcho(m) {
		r.echoPending = false
		return Decision{Action: ActionDropEcho, Index: -1, Message: m}
	}

	if idx := r.identityIndex(m); idx >= 0 {
		if idx < r.floor {
			r.logger.Debug("record matches history, dropped",
				zap.Int("index", idx),
				zap.String("role", m.Role),
			)
			return Decision{Action: ActionDropStale, Index: -1, Message: m}
		}
		return r.replace(idx, m)
	}

	if m.Role == domain.RoleModel && r.lastModel >= r.floor {
		if cur, ok := r.transcript.At(r.lastModel); ok && !identityDecidable(cur, m) {
			return r.replace(r.lastModel, m)
		}
	}

	idx := r.transcript.Append(m)
	if m.Role == domain.RoleModel {
		r.lastModel = idx
	}
	return Decision{Action: ActionAppend, Index: idx, Message: m}
}

// identityIndex busca primero por id en todo el transcript; role + timestamp solo
// decide si ningun mensaje tiene el mismo id.
func (r *Reconciler) identityIndex(m domain.Message) int {
	if m.ID != "" {
		if idx := r.transcript.find(0, func(e domain.Message) bool { return e.ID == m.ID }); idx >= 0 {
			return idx
		}
	}
	return r.transcript.find(0, func(e domain.Message) bool { return SameIdentity(e, m) })
}

func (r *Reconciler) replace(idx int, m domain.Message) Decision {
	if err := r.transcript.Replace(idx, m); err != nil {
		r.logger.Warn("replace failed", zap.Error(err))
		return Decision{Action: ActionSkip, Index: -1, Message: m, Failure: err}
	}
	if m.Role == domain.RoleModel {
		r.lastModel = idx
	}
	return Decision{Action: ActionReplace, Index: idx, Message: m}
}

func (r *Reconciler) isEcho(m domain.Message) bool {
	if !r.echoPending || m.Role != domain.RoleUser {
		return false
	}
	if m.ID != "" && r.optimistic.ID != "" && m.ID == r.optimistic.ID {
		return true
	}
	return m.Content == r.echoToken
}

// Floor devuelve la primera posicion mutable por esta sesion.
func (r *Reconciler) Floor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.floor
}

// Transcript devuelve el transcript sobre el que escribe la sesion (cambia tras Rebase).
func (r *Reconciler) Transcript() *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript
}

// SameIdentity aplica la politica de identidad: id si ambos lo tienen; si no,
// role + timestamp si ambos tienen timestamp. Con ids distintos nunca son el mismo
// mensaje aunque coincida el timestamp.
func SameIdentity(a, b domain.Message) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	if a.Timestamp != "" && b.Timestamp != "" {
		return a.Role == b.Role && a.Timestamp == b.Timestamp
	}
	return false
}

// identityDecidable es true cuando SameIdentity tiene datos suficientes para decidir.
func identityDecidable(a, b domain.Message) bool {
	return (a.ID != "" && b.ID != "") || (a.Timestamp != "" && b.Timestamp != "")
}

func truncate(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
