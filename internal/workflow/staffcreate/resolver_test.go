package staffcreate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store/memstore"
)

func TestNormalisePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "901234567", want: "+998901234567"},
		{in: "998901234567", want: "+998901234567"},
		{in: "+998901234567", want: "+998901234567"},
		{in: "123", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalisePhone(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestClientResolverByPhoneFindsExactAndUnprefixedMatch(t *testing.T) {
	s := memstore.New()
	r := NewClientResolver(s)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, workflow.User{PhoneNormalised: "+998901234567", FullName: "Ali Valiyev", Role: workflow.RoleClient})
	require.NoError(t, err)

	res, err := r.ByPhone(ctx, "901234567")
	require.NoError(t, err)
	require.Equal(t, 1, res.Found)
	require.Equal(t, "Ali Valiyev", res.List[0].FullName)
}

func TestClientResolverByNameRanksExactMatchFirst(t *testing.T) {
	s := memstore.New()
	r := NewClientResolver(s)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, workflow.User{PhoneNormalised: "+998900000001", FullName: "Ali", Role: workflow.RoleClient})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, workflow.User{PhoneNormalised: "+998900000002", FullName: "Alisher", Role: workflow.RoleClient})
	require.NoError(t, err)

	res, err := r.ByName(ctx, "Ali")
	require.NoError(t, err)
	require.Equal(t, 2, res.Found)
	require.Equal(t, "Ali", res.List[0].FullName, "exact match ranks first")
}

func TestCreateNewClientRefusesDuplicatePhone(t *testing.T) {
	s := memstore.New()
	r := NewClientResolver(s)
	ctx := context.Background()

	_, err := r.CreateNewClient(ctx, "Ali Valiyev", "901234567", "", "uz")
	require.NoError(t, err)

	_, err = r.CreateNewClient(ctx, "Someone Else", "998901234567", "", "uz")
	require.Error(t, err, "same phone in a different raw form must still collide")
}
