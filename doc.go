// Package notifnet 提供点对点节点的通知协议层
//
// 一个 Service 在节点连接之上复用多个具名、双向的通知通道：协商协议名
// （包括回退名）、执行连接准入限制，并向上层暴露一个有序的事件流。
//
// # 快速开始
//
//	cfg := config.NewLocalConfig()
//	cfg.ExtraSets = []config.NonDefaultSetConfig{
//	    config.NewNonDefaultSetConfig("/chat/1", 1<<20),
//	}
//
//	svc, err := notifnet.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	events, _ := svc.EventStream("app")
//	for ev := range events.Out() {
//	    switch e := ev.(type) {
//	    case types.StreamOpened:
//	        svc.WriteNotification(e.Remote, "/chat/1", []byte("hello"))
//	    case types.NotificationsReceived:
//	        // ...
//	    }
//	}
//
// # 发送语义
//
// WriteNotification 是尽力而为的：子流对未打开、队列已满或负载过大时
// 通知被静默丢弃，只记录指标与调试日志。
//
// NotificationSender 提供背压：Ready 阻塞直到独占一个队列槽位，
// 之后 Send 一定入队。槽位在写任务把帧写入子流后才释放。
//
// # 事件顺序
//
// 所有订阅者观察到同一个全序；对任一 (peer, protocol)，StreamOpened 与
// StreamClosed 严格交替，NotificationsReceived 只出现在两者之间。
//
// # 日志
//
// 通过环境变量控制：
//
//	NOTIFNET_LOG_LEVEL=swarm=debug,notifications=debug,info
//	NOTIFNET_LOG_FORMAT=json
package notifnet
