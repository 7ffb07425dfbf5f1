// Package services 提供应用的领域服务层：用户与关注关系、认证（令牌/会话/刷新/撤销）、帖子、feed 缓存、图片与领域事件。
// 该层对 handlers 提供较为稳定的接口，避免在 HTTP 层直接操作数据访问或缓存细节；
// 所有面向客户端的失败都以 *Error 返回，由 HTTP 层按 Kind 映射状态码。
package services
