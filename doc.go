// Package recsync 是影片推荐前端的客户端状态同步与遥测核心。
//
// 设计要点：
// - 会话身份：每个标签页一个不透明的会话 ID，所有遥测事件都带上它
// - 交互缓存：收藏 / 评分乐观更新，失败回滚，同一影片的变更串行
// - 遥测管道：内存队列 + 定时批量上报，退出时 beacon 交付，失败丢弃
// - 曝光跟踪：推荐区块第一次进入视口时上报一次
// - 环境信息：天气按 缓存 → 定位 → 默认城市 → 合成默认值 逐层降级，手动选择不落盘
//
// Core 按配置组装以上组件：
//
//	cfg, _ := config.Load("recsync.yaml")
//	c, err := recsync.New(cfg)
//	defer c.Close(ctx)
package recsync
