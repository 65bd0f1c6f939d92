package api

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobus/berrors"
)

func TestApiAddAndLookupOperation(t *testing.T) {
	a := New("calc")
	a.AddOperation(Operation{
		Name:    "Add",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) { return nil, nil },
	})

	op, ok := a.Operation("Add")
	require.True(t, ok)
	assert.Equal(t, "Add", op.Name)

	_, ok = a.Operation("Missing")
	assert.False(t, ok)
}

func TestApiOperationNamesAndEventNamesAreSorted(t *testing.T) {
	a := New("calc")
	a.AddOperation(Operation{Name: "Subtract"})
	a.AddOperation(Operation{Name: "Add"})
	a.AddEvent(EventDeclaration{Name: "Overflowed"})
	a.AddEvent(EventDeclaration{Name: "Added"})

	assert.Equal(t, []string{"Add", "Subtract"}, a.OperationNames())
	assert.Equal(t, []string{"Added", "Overflowed"}, a.EventNames())
}

func TestRegistryGetUnknownApi(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("calc")
	var unknown *berrors.UnknownApi
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "calc", unknown.APIName)
}

func TestRegistryAllAndNamesAreSorted(t *testing.T) {
	r := NewRegistry()
	r.Add(New("zeta"))
	r.Add(New("alpha"))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Meta.Name)
	assert.Equal(t, "zeta", all[1].Meta.Name)
}

func TestRegistryAddReplacesSameName(t *testing.T) {
	r := NewRegistry()
	first := New("calc")
	first.AddOperation(Operation{Name: "Add"})
	r.Add(first)

	second := New("calc")
	r.Add(second)

	got, err := r.Get("calc")
	require.NoError(t, err)
	_, ok := got.Operation("Add")
	assert.False(t, ok, "replacement api must not carry the first registration's operations")
}

type addArgs struct {
	X, Y int
}

type addReply struct {
	Sum int
}

type calculator struct{}

func (calculator) Add(ctx context.Context, args *addArgs) (*addReply, error) {
	return &addReply{Sum: args.X + args.Y}, nil
}

// NotAnOperation doesn't match the (ctx, *Args) (*Reply, error) convention
// and must be silently skipped.
func (calculator) NotAnOperation(x int) int { return x }

func TestFromStructDiscoversConventionMethods(t *testing.T) {
	a, err := FromStruct("calc", &calculator{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Add"}, a.OperationNames())

	op, ok := a.Operation("Add")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf(0), op.ParamTypes["X"])

	result, err := op.Handler(context.Background(), map[string]any{"X": 2, "Y": 3})
	require.NoError(t, err)
	assert.Equal(t, &addReply{Sum: 5}, result)
}

func TestFromStructRejectsNonPointerReceiver(t *testing.T) {
	_, err := FromStruct("calc", calculator{})
	assert.Error(t, err)
}
