// Package handlers 定义 /user 与 /post 路由：绑定显式请求结构体、调用 services，
// 并把结果或领域错误写成统一的 {status, message, data} 响应。
package handlers
