package platform

import "errors"

var ErrVulkanUnsupported = errors.New("platform: vulkan is not supported by this system")
