package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbio-data/engine-cli/internal/model"
)

type fakeCompanyStore struct {
	companies []model.Company
	nextID    int64

	merges [][2]int64
}

func (f *fakeCompanyStore) GetCompanyByName(_ context.Context, normalized string) (*model.Company, error) {
	for i := range f.companies {
		c := &f.companies[i]
		if c.CanonicalName == normalized || c.HasAlias(normalized) {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeCompanyStore) ListCompanies(_ context.Context) ([]model.Company, error) {
	return f.companies, nil
}

func (f *fakeCompanyStore) CreateCompany(_ context.Context, c *model.Company) error {
	f.nextID++
	c.ID = f.nextID
	f.companies = append(f.companies, *c)
	return nil
}

func (f *fakeCompanyStore) AddCompanyAlias(_ context.Context, companyID int64, alias string) error {
	for i := range f.companies {
		if f.companies[i].ID == companyID {
			f.companies[i].Aliases = append(f.companies[i].Aliases, alias)
			return nil
		}
	}
	return nil
}

func (f *fakeCompanyStore) MergeCompanies(_ context.Context, survivingID, losingID int64) error {
	f.merges = append(f.merges, [2]int64{survivingID, losingID})
	return nil
}

func TestCompanyResolver_ExactMatch(t *testing.T) {
	st := &fakeCompanyStore{companies: []model.Company{
		{ID: 1, CanonicalName: "ACME STEEL", Aliases: []string{"ACME STEEL"}},
	}, nextID: 1}

	r := NewCompanyResolver(st, 0)
	id, created, err := r.Resolve(context.Background(), "Acme Steel Inc.", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1), id)
}

func TestCompanyResolver_FuzzyAddsAlias(t *testing.T) {
	st := &fakeCompanyStore{companies: []model.Company{
		{ID: 1, CanonicalName: "ACME STEELWORKS", Aliases: []string{"ACME STEELWORKS"}},
	}, nextID: 1}

	r := NewCompanyResolver(st, 0)
	id, created, err := r.Resolve(context.Background(), "Acme Steelwork", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1), id)
	assert.True(t, st.companies[0].HasAlias("ACME STEELWORK"), "new variant recorded as alias")
}

func TestCompanyResolver_CreatesNewIdentity(t *testing.T) {
	st := &fakeCompanyStore{}

	r := NewCompanyResolver(st, 0)
	id, created, err := r.Resolve(context.Background(), "Zenith Polymers GmbH", "plastics")
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, st.companies, 1)
	assert.Equal(t, id, st.companies[0].ID)
	assert.Equal(t, "ZENITH POLYMERS", st.companies[0].CanonicalName)
	assert.Equal(t, "plastics", st.companies[0].Industry)

	// Same raw name resolves to the same identity, no duplicate.
	id2, created2, err := r.Resolve(context.Background(), "zenith polymers", "")
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, id, id2)
	assert.Len(t, st.companies, 1)
}

func TestCompanyResolver_EmptyName(t *testing.T) {
	r := NewCompanyResolver(&fakeCompanyStore{}, 0)
	_, _, err := r.Resolve(context.Background(), "   ", "")
	assert.True(t, model.IsValidation(err))
}

func TestCompanyResolver_MergeSelfRejected(t *testing.T) {
	st := &fakeCompanyStore{}
	r := NewCompanyResolver(st, 0)

	err := r.Merge(context.Background(), 7, 7)
	assert.True(t, model.IsValidation(err))
	assert.Empty(t, st.merges)
}

func TestCompanyResolver_MergeDelegates(t *testing.T) {
	st := &fakeCompanyStore{}
	r := NewCompanyResolver(st, 0)

	require.NoError(t, r.Merge(context.Background(), 1, 2))
	require.Len(t, st.merges, 1)
	assert.Equal(t, [2]int64{1, 2}, st.merges[0])
}
