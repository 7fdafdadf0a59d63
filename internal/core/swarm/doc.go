// Package swarm 实现连接群管理
//
// swarm 负责节点间的所有连接：监听、接受、拨号，并为每个对端连接
// 创建一个 notifications.Handler。
//
// # 核心功能
//
// 连接管理：
//   - 每个对端最多一个活跃连接
//   - 重复连接保留由 PeerID 较小一方拨出的那条，两端结论一致
//   - 旧连接的 Handler 完全退出后新连接的 Handler 才开始运行
//
// 拨号调度：
//   - 同一对端的并发请求合并为一次拨号
//   - 拨号失败时归还所有等待中的槽位
//
// 动作执行：
//   - 消费 peerset 的 Connect/Drop 动作，从不同步回调 peerset
//
// 地址簿：
//   - 引导节点与保留节点的地址常驻
//   - 其他地址按 ARC 淘汰
package swarm
