package math

// NewTransform returns an identity transform at position.
func NewTransform(position Vec3) *Transform {
	return NewTransformPRS(position, NewQuatIdentity(), NewVec3One())
}

func NewTransformPRS(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	return &Transform{
		Position: position,
		Rotation: rotation,
		Scale:    scale,
		IsDirty:  true,
		Local:    NewMat4Identity(),
	}
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) Translate(translation Vec3) {
	t.Position = t.Position.Add(translation)
	t.IsDirty = true
}

func (t *Transform) SetRotation(rotation Quaternion) {
	t.Rotation = rotation
	t.IsDirty = true
}

func (t *Transform) Rotate(rotation Quaternion) {
	t.Rotation = t.Rotation.Mul(rotation)
	t.IsDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.IsDirty = true
}

// GetLocal returns scale * rotation * translation, recomputed when dirty.
func (t *Transform) GetLocal() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	if t.IsDirty {
		tr := t.Rotation.ToMat4().Mul(NewMat4Translation(t.Position))
		t.Local = NewMat4Scale(t.Scale).Mul(tr)
		t.IsDirty = false
	}
	return t.Local
}

func (t *Transform) GetWorld() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	l := t.GetLocal()
	if t.Parent != nil {
		return l.Mul(t.Parent.GetWorld())
	}
	return l
}
