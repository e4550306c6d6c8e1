// Package strategy 定义检索策略接口与全局注册表。
//
// 每种算法位于 internal/strategy/<key>/ 子包中，并在 init() 里通过 MustRegister
// 以分类结果（例如 "cache-first"）为键注册自身；分发器只按键解析，不直接依赖具体实现。
// 策略运行所需的仓库、网络与版本信息全部经由 Env 显式传入。
package strategy
