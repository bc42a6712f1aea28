package protocol

// LaunchArguments launch请求携带的参数
type LaunchArguments struct {
	// OutputDirectory 游戏模式编译输出目录，从该目录开始向上查找服务器程序
	OutputDirectory string `json:"outputDirectory"`
	// ServerExecutable 服务器程序名称，为空时使用配置中的名称
	ServerExecutable string `json:"serverExecutable,omitempty"`
	// Gamemode 游戏模式入口，为空时读取server.cfg
	Gamemode string `json:"gamemode,omitempty"`
	// DebuggerAddress 远程调试地址 host:port
	DebuggerAddress string `json:"debuggerAddress,omitempty"`
	// Args 服务器进程的额外参数
	Args []string `json:"args,omitempty"`
	// Env 服务器进程的额外环境变量
	Env map[string]string `json:"env,omitempty"`
	// NoDebug 仅运行不调试
	NoDebug bool `json:"noDebug,omitempty"`
}

// AttachArguments attach请求携带的参数，连接已经运行的服务器进程
type AttachArguments struct {
	DebuggerAddress string `json:"debuggerAddress,omitempty"`
}
