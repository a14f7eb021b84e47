// Package cachekey 维护“请求路径 → 缓存 key”的工厂注册表。
//
// 同一段媒体可能通过带签名参数或不同查询串的 URL 访问，工厂决定哪些部分参与 key：
//   - path：只使用清理后的路径，忽略查询串（默认）；
//   - path-query：路径 + 按参数名排序后的查询串。
//
// 新工厂在 init() 中通过 MustRegister 注册，配置项 CacheKeyFactory 按名称选择。
package cachekey
