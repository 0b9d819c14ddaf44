package core

// 关键点配置
const (
	DefaultNumberOfLandmarks = 33   // MediaPipe Pose 输出 33 个关键点
	DefaultSmoothingSpeed    = 10.0 // 位置插值速度
	DefaultVisibleScale      = 0.1  // 可见时的标记缩放
)

// 相机配置
const (
	DefaultScreenWidth  = 800
	DefaultScreenHeight = 600
	DefaultFOVDegrees   = 60.0
	DefaultNearClip     = 0.3
	DefaultFarClip      = 1000.0

	// 投影深度 = 近裁剪面 + 1
	DepthAheadOfNearClip = 1.0
)

// 双人方案中区分的两个拥有者 ID
const (
	LeftOwnerClientID  = 1 // 世界坐标 x > 0 时隐藏
	RightOwnerClientID = 2 // 世界坐标 x < 0 时隐藏
)

// 墙体配置
const (
	WallBaseY         = -2.7
	DefaultWallSpeed  = 0.05
	DefaultWallStartZ = 60.0
)
