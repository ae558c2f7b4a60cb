package nats

import "strings"

// 推送 Subject 约定
// 完整格式: {prefix}.user.{viewerId}.newMessage
const (
	DefaultSubjectPrefix = "storefront.push"

	EventNewMessage = "newMessage"
)

// BuildViewerSubject 构建某个 viewer 的推送 Subject
// viewerId 中的 '.'、'*'、'>' 会破坏 Subject 层级，统一替换为 '_'
func BuildViewerSubject(prefix, viewerID, event string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	safe := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(viewerID)
	return prefix + ".user." + safe + "." + event
}
