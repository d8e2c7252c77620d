package jsonapi

// ResourceBuilder assembles a Resource attribute by attribute.
type ResourceBuilder struct {
	r Resource
}

// NewResource starts a resource of the given type and id.
func NewResource(resourceType, id string) *ResourceBuilder {
	return &ResourceBuilder{r: Resource{Type: resourceType, ID: id, Attributes: map[string]any{}}}
}

func (b *ResourceBuilder) Attr(key string, value any) *ResourceBuilder {
	b.r.Attributes[key] = value
	return b
}

// AttrIf sets an optional attribute, e.g. a completion time that may be unset.
func (b *ResourceBuilder) AttrIf(cond bool, key string, value any) *ResourceBuilder {
	if cond {
		return b.Attr(key, value)
	}
	return b
}

func (b *ResourceBuilder) Meta(key string, value any) *ResourceBuilder {
	if b.r.Meta == nil {
		b.r.Meta = Meta{}
	}
	b.r.Meta[key] = value
	return b
}

func (b *ResourceBuilder) Build() Resource {
	return b.r
}
