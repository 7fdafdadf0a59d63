// Package upgrader 实现连接升级器
//
// # 概述
//
// upgrader 把传输层的原始连接升级为带身份的多路复用连接。
//
// # 升级流程
//
//  1. 身份交换
//     - 双方同时发送 公钥 || 随机数
//     - 双方对对方的随机数签名并交换签名
//     - 出站连接校验对方 PeerID 与拨号目标一致
//
//  2. 多路复用器协商（multistream-select）
//     - 客户端提议：[/yamux/1.0.0]
//     - 服务器选择：/yamux/1.0.0
//
//  3. 多路复用设置
//     - 创建 yamux session
//
// 身份交换只用于确定对端 PeerID，不提供加密。
//
// # 使用示例
//
//	id, _ := identity.Generate()
//	u := upgrader.New(id, upgrader.DefaultConfig())
//
//	raw, _ := tr.Dial(ctx, addr)
//	conn, err := u.Upgrade(ctx, raw, types.DirOutbound, remotePeerID, addr)
//
//	stream, _ := conn.Session().OpenStream(ctx)
package upgrader
