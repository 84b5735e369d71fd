package topic

import (
	"fmt"
)

// Topic segments shared by webapkd and the installer. Changing them breaks
// installers already deployed.
const (
	// SuffixInstallRequest carries update requests to the installer.
	// Structure: {root}/install/request/{appID}
	SuffixInstallRequest = "install/request"

	// SuffixInstallResult carries install outcomes back to webapkd.
	// Structure: {root}/install/result/{appID}
	SuffixInstallResult = "install/result"
)

// TopicBuilder constructs the MQTT topic strings used by the installer protocol.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g. "webapk/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// InstallRequest returns the topic an update request for appID is published to.
func (b *TopicBuilder) InstallRequest(appID string) string {
	return b.build(SuffixInstallRequest, appID)
}

// InstallRequestWildcard is what an installer subscribes to.
func (b *TopicBuilder) InstallRequestWildcard() string {
	return b.build(SuffixInstallRequest, Wildcard)
}

// InstallResult returns the topic the installer reports appID's outcome on.
func (b *TopicBuilder) InstallResult(appID string) string {
	return b.build(SuffixInstallResult, appID)
}

// InstallResultWildcard is what webapkd subscribes to.
func (b *TopicBuilder) InstallResultWildcard() string {
	return b.build(SuffixInstallResult, Wildcard)
}

// AppID extracts the trailing app id of a topic built by this builder, or ""
// when the topic does not belong to suffix.
func (b *TopicBuilder) AppID(suffix, topic string) string {
	prefix := fmt.Sprintf("%s/%s/", b.root, suffix)
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	return topic[len(prefix):]
}

// build joins {root}/{suffix}/{identifier}.
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
