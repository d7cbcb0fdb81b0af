package weaviate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	assert.NoError(t, EnsureSchema(context.Background(), client))

	if assert.NotNil(t, client.CreatedClass) {
		assert.Equal(t, ClassSharedVector, client.CreatedClass.Class)
		assert.Equal(t, "none", client.CreatedClass.Vectorizer)
		assert.Len(t, client.CreatedClass.Properties, 2)
	}
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class:      ClassSharedVector,
			Properties: []*models.Property{{Name: "contentHash", DataType: []string{"string"}}},
		},
	}
	assert.NoError(t, EnsureSchema(context.Background(), client))
	assert.Nil(t, client.CreatedClass)
	if assert.Len(t, client.AddedProperties, 1) {
		assert.Equal(t, "url", client.AddedProperties[0].Name)
	}
}
