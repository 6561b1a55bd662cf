package form

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"katydid-common-form/pkg/form/rule"
)

func TestStore_ValidateField(t *testing.T) {
	s := New()
	s.SignInField(requiredField("A"))
	s.SignInField(&Field{Name: "B"})

	fe, err := s.ValidateField(context.Background(), "A")
	require.NoError(t, err)
	require.NotNil(t, fe)
	assert.Equal(t, "required", fe.Errors[0].Tag)
	assert.Equal(t, Invalid, s.FieldErrorState("A"))
	// 单独校验不改变修改状态
	assert.False(t, s.IsFieldTouched("A"))

	fe, err = s.ValidateField(context.Background(), "B")
	require.NoError(t, err)
	assert.Nil(t, fe)
	assert.Equal(t, Valid, s.FieldErrorState("B"))

	fe, err = s.ValidateField(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, fe)
}

func TestStore_ValidateFields(t *testing.T) {
	s := New()
	s.SignInField(requiredField("A"))
	s.SignInField(requiredField("B"))
	s.SignInField(requiredField("C"))
	require.NoError(t, s.SetFieldValue(context.Background(), map[string]any{"B": "b"}, WithResponse(false)))

	results, err := s.ValidateFields(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.NotNil(t, results["A"])
	assert.Contains(t, results, "B")
	assert.Nil(t, results["B"])
	assert.Equal(t, NotValidated, s.FieldErrorState("C"))

	results, err = s.ValidateFields(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.NotNil(t, results["C"])
}

func TestStore_ValidateFields_EngineReportedKey(t *testing.T) {
	s := New()
	s.SignInField(&Field{
		Name: "A",
		Validate: func(_ context.Context, value any) (*FieldError, error) {
			return &FieldError{
				Field:  "B",
				Errors: []*rule.ValidationError{rule.NewValidationError("B", "mismatch", "", value)},
			}, nil
		},
	})
	s.SignInField(&Field{Name: "B"})

	results, err := s.ValidateFields(context.Background(), "A")
	require.NoError(t, err)

	assert.NotContains(t, results, "A")
	require.Contains(t, results, "B")
	assert.NotNil(t, s.GetFieldError("B"))
	assert.Nil(t, s.GetFieldError("A"))
	assert.Equal(t, NotValidated, s.FieldErrorState("A"))
}

func TestStore_ValidateFields_Concurrent(t *testing.T) {
	s := New()

	var (
		mu      sync.Mutex
		running int
		peak    int
		release = make(chan struct{})
		started = make(chan struct{}, 3)
	)
	slow := func(context.Context, any) (*FieldError, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		started <- struct{}{}
		<-release

		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	}
	for _, name := range []string{"a", "b", "c"} {
		s.SignInField(&Field{Name: name, Validate: slow})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.ValidateFields(context.Background())
		assert.NoError(t, err)
	}()

	for i := 0; i < 3; i++ {
		<-started
	}
	close(release)
	<-done

	assert.Equal(t, 3, peak)
}

func TestStore_StaleValidationDropped(t *testing.T) {
	s := New()

	started := make(chan struct{})
	release := make(chan struct{})
	s.SignInField(&Field{
		Name: "A",
		Validate: func(_ context.Context, value any) (*FieldError, error) {
			if value == 1 {
				close(started)
				<-release
				return &FieldError{
					Field:  "A",
					Errors: []*rule.ValidationError{rule.NewValidationError("A", "old", "", value)},
				}, nil
			}
			return nil, nil
		},
	})

	done := make(chan error)
	go func() {
		done <- s.SetFieldValue(context.Background(), map[string]any{"A": 1})
	}()

	<-started
	require.NoError(t, s.SetFieldValue(context.Background(), map[string]any{"A": 2}))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 2, s.GetFieldValue("A"))
	assert.Nil(t, s.GetFieldError("A"))
	assert.Equal(t, Valid, s.FieldErrorState("A"))
}

// blockingField 校验值 "bad" 时阻塞直到 release 关闭，返回未通过
func blockingField(name string, started, release chan struct{}) *Field {
	return &Field{
		Name: name,
		Validate: func(_ context.Context, value any) (*FieldError, error) {
			if value != "bad" {
				return nil, nil
			}
			close(started)
			<-release
			return &FieldError{
				Field:  name,
				Errors: []*rule.ValidationError{rule.NewValidationError(name, "x", "", value)},
			}, nil
		},
	}
}

func TestStore_ResetDuringValidation(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	s.SignInField(blockingField("A", started, release))

	done := make(chan error)
	go func() {
		done <- s.SetFieldValue(context.Background(), map[string]any{"A": "bad"})
	}()

	<-started
	s.ResetField("A")
	close(release)
	require.NoError(t, <-done)

	assert.Nil(t, s.GetFieldValue("A"))
	assert.Nil(t, s.GetFieldError("A"))
	assert.Equal(t, NotValidated, s.FieldErrorState("A"))
	assert.False(t, s.IsFieldTouched("A"))
}

func TestStore_SkipValidateDuringValidation(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	s.SignInField(blockingField("A", started, release))

	done := make(chan error)
	go func() {
		done <- s.SetFieldValue(context.Background(), map[string]any{"A": "bad"})
	}()

	<-started
	require.NoError(t, s.SetFieldValue(context.Background(), map[string]any{"A": "good"}, WithSkipValidate(true)))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "good", s.GetFieldValue("A"))
	assert.Nil(t, s.GetFieldError("A"))
	assert.Equal(t, NotValidated, s.FieldErrorState("A"))
	assert.True(t, s.IsFieldTouched("A"))
}

func TestStore_SilentSetDuringValidation(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	s.SignInField(blockingField("A", started, release))

	require.NoError(t, s.SetFieldValue(context.Background(), map[string]any{"A": "bad"}, WithResponse(false)))

	done := make(chan error)
	go func() {
		_, err := s.ValidateFields(context.Background())
		done <- err
	}()

	<-started
	require.NoError(t, s.SetFieldValue(context.Background(), map[string]any{"A": "good"}, WithResponse(false)))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, NotValidated, s.FieldErrorState("A"))
}

func TestStore_ValidationAfterSignOutDropped(t *testing.T) {
	s := New()

	started := make(chan struct{})
	release := make(chan struct{})
	signOut := s.SignInField(&Field{
		Name: "A",
		Validate: func(context.Context, any) (*FieldError, error) {
			close(started)
			<-release
			return &FieldError{Field: "A"}, nil
		},
	})

	done := make(chan error)
	go func() {
		_, err := s.ValidateField(context.Background(), "A")
		done <- err
	}()

	<-started
	signOut()
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, NotValidated, s.FieldErrorState("A"))
	assert.Empty(t, s.GetFieldEntitiesName())
}

func TestStore_EngineFault(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := New(WithLogger(zap.New(core)))

	s.SignInField(&Field{Name: "broken", Rules: []rule.Rule{{Tag: "no_such_tag"}}})
	s.SignInField(requiredField("ok"))

	var calls int
	s.SetCallback(Callbacks{OnValueChange: func(_, _ map[string]any) { calls++ }})

	err := s.SetFieldValue(context.Background(), map[string]any{"broken": "x", "ok": ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, rule.ErrRuleEngine)
	assert.Contains(t, err.Error(), "broken")

	// 兄弟字段照常校验，回调在全部结束后触发一次
	assert.Equal(t, 1, calls)
	assert.NotNil(t, s.GetFieldError("ok"))
	assert.True(t, s.IsFieldTouched("ok"))
	assert.False(t, s.IsFieldTouched("broken"))
	assert.Equal(t, NotValidated, s.FieldErrorState("broken"))
	assert.Equal(t, 1, logs.FilterMessage("field validation failed").Len())

	_, err = s.ValidateField(context.Background(), "broken")
	assert.ErrorIs(t, err, rule.ErrRuleEngine)
}

func TestStore_ValidateFunc_Error(t *testing.T) {
	boom := errors.New("remote validator unavailable")
	s := New()
	s.SignInField(&Field{Name: "A", Validate: func(context.Context, any) (*FieldError, error) {
		return nil, boom
	}})

	_, err := s.ValidateFields(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestStore_ValidationTimeout(t *testing.T) {
	s := New(WithValidationTimeout(10 * time.Millisecond))
	s.SignInField(&Field{Name: "A", Rules: []rule.Rule{{Func: func(ctx context.Context, _ any) error {
		<-ctx.Done()
		return rule.Fault(ctx.Err())
	}}}})

	_, err := s.ValidateField(context.Background(), "A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, rule.ErrRuleEngine)
}

func TestStore_WithEngine(t *testing.T) {
	var seen []string
	engine := rule.EngineFunc(func(_ context.Context, field string, _ any, rules []rule.Rule, validateFirst bool) ([]*rule.ValidationError, error) {
		seen = append(seen, field)
		assert.True(t, validateFirst)
		return []*rule.ValidationError{rule.NewValidationError(field, rules[0].Tag, "", nil)}, nil
	})

	s := New(WithEngine(engine))
	s.SignInField(&Field{Name: "A", Rules: []rule.Rule{{Tag: "custom"}}, ValidateFirst: true})
	s.SignInField(&Field{Name: "empty"})

	results, err := s.ValidateFields(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, seen)
	assert.Equal(t, "custom", results["A"].Errors[0].Tag)
	assert.Nil(t, results["empty"])
}

func TestStore_Submit(t *testing.T) {
	newStore := func() (*Store, *map[string]any, *map[string]*FieldError) {
		s := New()
		s.SignInField(requiredField("A"))

		var (
			finished map[string]any
			failed   map[string]*FieldError
		)
		s.SetCallback(Callbacks{
			OnFinish:       func(values map[string]any) { finished = values },
			OnFinishFailed: func(errs map[string]*FieldError) { failed = errs },
		})
		return s, &finished, &failed
	}

	t.Run("缺少必填值", func(t *testing.T) {
		s, finished, failed := newStore()
		require.NoError(t, s.Submit(context.Background(), false))

		assert.Nil(t, *finished)
		require.Contains(t, *failed, "A")
		assert.NotEmpty(t, (*failed)["A"].Errors)
	})

	t.Run("提供有效值", func(t *testing.T) {
		s, finished, failed := newStore()
		require.NoError(t, s.SetFieldValue(context.Background(), map[string]any{"A": "v", "loose": 1}))
		require.NoError(t, s.Submit(context.Background(), false))

		assert.Nil(t, *failed)
		assert.Equal(t, map[string]any{"A": "v", "loose": 1}, *finished)
	})

	t.Run("跳过校验", func(t *testing.T) {
		s, finished, failed := newStore()
		require.NoError(t, s.Submit(context.Background(), true))

		assert.Nil(t, *failed)
		assert.Equal(t, map[string]any{"A": nil}, *finished)
		assert.Equal(t, NotValidated, s.FieldErrorState("A"))
	})

	t.Run("引擎故障不触发回调", func(t *testing.T) {
		s, finished, failed := newStore()
		s.SignInField(&Field{Name: "broken", Rules: []rule.Rule{{Tag: "no_such_tag"}}})

		err := s.Submit(context.Background(), false)
		assert.ErrorIs(t, err, rule.ErrRuleEngine)
		assert.Nil(t, *finished)
		assert.Nil(t, *failed)
	})

	t.Run("提交不改变修改状态", func(t *testing.T) {
		s, _, _ := newStore()
		require.NoError(t, s.Submit(context.Background(), false))
		assert.False(t, s.IsFieldTouched("A"))
	})
}

func TestFieldError(t *testing.T) {
	assert.Nil(t, NewFieldError("a", nil, nil))

	fe := NewFieldError("a", []*rule.ValidationError{
		rule.NewValidationError("", "required", "", nil),
		rule.NewValidationError("a", "min", "3", "x").WithMessage("too short"),
	}, nil)
	require.NotNil(t, fe)
	assert.Equal(t, "a", fe.Field)
	assert.Equal(t, "field '' validation failed on tag 'required'; field 'a': too short", fe.Error())
	assert.Equal(t, []string{"field '' validation failed on tag 'required'", "too short"}, fe.Messages())

	var nilErr *FieldError
	assert.Equal(t, "validation passed: no errors", nilErr.Error())
	assert.Nil(t, nilErr.Messages())
}

func TestErrorState_String(t *testing.T) {
	assert.Equal(t, "not_validated", NotValidated.String())
	assert.Equal(t, "valid", Valid.String())
	assert.Equal(t, "invalid", Invalid.String())
}
