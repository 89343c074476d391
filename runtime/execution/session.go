package execution

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/gantryci/gantry/extension"
	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/model/state"
	"github.com/gantryci/gantry/runtime/expander"
	"github.com/viant/structology/conv"
)

// Session holds the mutable state of a run: values produced by env
// parameters, step outputs and post promotions.
type Session struct {
	ID         string
	State      map[string]interface{}
	Context    map[string]interface{}
	types      *extension.Types
	imports    model.Imports
	converter  *conv.Converter
	mu         sync.RWMutex
	listeners  []StateListener     // invoked on Set
	conditionL []ConditionListener // invoked on if-condition evaluation
}

// ConditionListener is invoked every time an `if:` expression is evaluated.
// The listener receives the session (at evaluation time), the raw expression
// and the boolean outcome of the evaluation.
type ConditionListener func(s *Session, expr string, result bool)

// StateListener is invoked every time Session.Set overwrites an existing key
// or inserts a new one.
type StateListener func(s *Session, key string, oldVal, newVal interface{})

// RegisterListeners attaches a callback that will be called on every Set.
// The call is made synchronously while the session mutex is held, therefore
// listeners MUST return quickly and must not call back into Session to avoid
// deadlocks.
func (s *Session) RegisterListeners(fn ...StateListener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn...)
}

// RegisterConditionListeners attaches callbacks that are executed after
// every `if:` condition evaluation.
func (s *Session) RegisterConditionListeners(fn ...ConditionListener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditionL = append(s.conditionL, fn...)
}

// FireCondition notifies all registered condition listeners. It is exported
// so that code outside this package (e.g. the scheduler) can emit the event.
func (s *Session) FireCondition(expr string, result bool) {
	s.mu.RLock()
	lst := append([]ConditionListener(nil), s.conditionL...)
	s.mu.RUnlock()
	for _, fn := range lst {
		fn(s, expr, result)
	}
}

// Set adds or updates a value in the session.
func (s *Session) Set(key string, value interface{}) {
	s.mu.Lock()
	old := s.State[key]
	s.State[key] = value
	s.mu.Unlock()

	for _, fn := range s.listeners {
		fn(s, key, old, value)
	}
}

// Get retrieves a value from the session.
func (s *Session) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, exists := s.State[key]
	return value, exists
}

// Append accumulates values under a key, promoting scalars to slices as
// needed. Report steps use it to collect suite results across matrix legs.
func (s *Session) Append(key string, value interface{}) {
	if value == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var dst []interface{}
	if cur, ok := s.State[key]; ok && cur != nil {
		switch v := cur.(type) {
		case []interface{}:
			dst = v
		default:
			dst = []interface{}{v}
		}
	}

	add := func(elem interface{}) {
		if elem != nil {
			dst = append(dst, elem)
		}
	}

	// If the incoming value is a slice/array, append its elements.
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Len() == 0 {
			return
		}
		for i := 0; i < rv.Len(); i++ {
			add(rv.Index(i).Interface())
		}
	} else {
		add(value)
	}

	s.State[key] = dst
}

// JobSession builds a job-scoped overlay: the supplied values shadow the
// run-level state, everything else is inherited.
func (s *Session) JobSession(from map[string]interface{}, options ...Option) *Session {
	ret := NewSession(s.ID, options...)

	if len(s.listeners) > 0 {
		ret.listeners = s.listeners
	}
	if len(s.conditionL) > 0 {
		ret.conditionL = s.conditionL
	}

	for k, v := range from {
		ret.State[k] = v
	}
	for k, v := range s.State {
		if _, ok := ret.State[k]; ok {
			continue
		}
		ret.State[k] = v
	}
	return ret
}

// GetString retrieves a value as a string.
func (s *Session) GetString(key string) (string, bool) {
	value, exists := s.Get(key)
	if !exists {
		return "", false
	}

	strVal, ok := value.(string)
	return strVal, ok
}

// GetInt retrieves a value as an integer.
func (s *Session) GetInt(key string) (int, bool) {
	value, exists := s.Get(key)
	if !exists {
		return 0, false
	}

	intVal, ok := value.(int)
	return intVal, ok
}

// GetBool retrieves a value as a boolean.
func (s *Session) GetBool(key string) (bool, bool) {
	value, exists := s.Get(key)
	if !exists {
		return false, false
	}

	boolVal, ok := value.(bool)
	return boolVal, ok
}

// Expand expands a value using the session state.
func (s *Session) Expand(value interface{}) (interface{}, error) {
	return expander.Expand(value, s.State)
}

// ApplyParameters applies a list of parameters to the session.
func (s *Session) ApplyParameters(params state.Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, param := range params {
		value := param.Value
		if value, err = expander.Expand(param.Value, s.State); err != nil {
			return err
		}
		if value == nil && param.Default != nil {
			value = param.Default
		}
		value, err = s.ensureValueType(param.DataType, value)
		if err != nil {
			return err
		}
		s.State[param.Name] = value
	}
	return nil
}

// Clone creates a copy of the session.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := NewSession(s.ID)
	clone.listeners = append(clone.listeners, s.listeners...)
	clone.conditionL = append(clone.conditionL, s.conditionL...)
	for k, v := range s.State {
		clone.State[k] = v
	}
	return clone
}

// GetAll returns a copy of all values in the session.
func (s *Session) GetAll() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]interface{}, len(s.State))
	for k, v := range s.State {
		result[k] = v
	}

	return result
}

func (s *Session) ensureValueType(dataType string, value interface{}) (interface{}, error) {
	if dataType == "" {
		return value, nil
	}
	if s.types == nil {
		return nil, fmt.Errorf("types not initialized")
	}
	if s.imports == nil {
		return nil, fmt.Errorf("imports not initialized")
	}

	aType := s.types.Lookup(dataType, extension.WithImports(s.imports))
	if aType == nil {
		return nil, fmt.Errorf("type %v not registered", dataType)
	}

	return s.TypedValue(aType.Type, value)
}

// TypedValue converts a value to the specified type.
func (s *Session) TypedValue(aType reflect.Type, value interface{}) (interface{}, error) {
	if s.converter == nil {
		s.converter = conv.NewConverter(conv.DefaultOptions())
	}
	instance := newInstancePtr(aType)
	err := s.converter.Convert(value, instance)
	if aType.Kind() == reflect.Slice {
		instance = reflect.ValueOf(instance).Elem().Interface()
	}
	return instance, err
}

// NewSession creates a new session.
func NewSession(id string, opt ...Option) *Session {
	ret := &Session{
		ID:      id,
		State:   make(map[string]interface{}),
		Context: make(map[string]interface{}),
	}

	for _, o := range opt {
		o(ret)
	}
	if len(ret.imports) == 0 && ret.types != nil {
		ret.imports = ret.types.Imports()
	}

	return ret
}

var empty interface{}

// newInstancePtr creates a new instance pointer of the given type.
func newInstancePtr(t reflect.Type) interface{} {
	if t == nil {
		return empty
	}

	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}
