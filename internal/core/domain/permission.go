package domain

type PermissionID string

// StreamPermission is the authorization edge granting a subscriber access to
// a publisher's stream.
type StreamPermission struct {
	ID           PermissionID `json:"id"`
	PublisherID  UserID       `json:"publisher_id"`
	SubscriberID UserID       `json:"subscriber_id"`
	AllowVideo   bool         `json:"allow_video"`
	AllowAudio   bool         `json:"allow_audio"`
	IsActive     bool         `json:"is_active"`
}

// PermissionPatch carries the fields of a partial permission update.
// Nil fields are left untouched.
type PermissionPatch struct {
	AllowVideo *bool `json:"allow_video,omitempty"`
	AllowAudio *bool `json:"allow_audio,omitempty"`
	IsActive   *bool `json:"is_active,omitempty"`
}

// Apply merges the patch into p.
func (patch PermissionPatch) Apply(p *StreamPermission) {
	if patch.AllowVideo != nil {
		p.AllowVideo = *patch.AllowVideo
	}
	if patch.AllowAudio != nil {
		p.AllowAudio = *patch.AllowAudio
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
}

// Empty reports whether the patch changes nothing.
func (patch PermissionPatch) Empty() bool {
	return patch.AllowVideo == nil && patch.AllowAudio == nil && patch.IsActive == nil
}

type CapabilityBit string

const (
	CapabilityVideo CapabilityBit = "allowVideo"
	CapabilityAudio CapabilityBit = "allowAudio"
)

// Patch returns the partial update that sets bit to value.
func (b CapabilityBit) Patch(value bool) (PermissionPatch, error) {
	switch b {
	case CapabilityVideo:
		return PermissionPatch{AllowVideo: &value}, nil
	case CapabilityAudio:
		return PermissionPatch{AllowAudio: &value}, nil
	}
	return PermissionPatch{}, ErrUnknownCapability
}

// AssignedPublishers derives the set of publisher ids from a permission snapshot.
func AssignedPublishers(perms []*StreamPermission) map[UserID]bool {
	set := make(map[UserID]bool, len(perms))
	for _, p := range perms {
		set[p.PublisherID] = true
	}
	return set
}

// FindByPublisher returns the first edge for publisherID in perms, or nil.
func FindByPublisher(perms []*StreamPermission, publisherID UserID) *StreamPermission {
	for _, p := range perms {
		if p.PublisherID == publisherID {
			return p
		}
	}
	return nil
}
